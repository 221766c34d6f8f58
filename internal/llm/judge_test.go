package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJudgeResponse_ValidScore(t *testing.T) {
	r := parseJudgeResponse("SCORE: 0.85\nThe visitor showed strong buying intent.")
	require.Equal(t, 0.85, r.Score)
	require.Contains(t, r.Rationale, "buying intent")
}

func TestParseJudgeResponse_ClampsOutOfRange(t *testing.T) {
	r := parseJudgeResponse("score: 1.50 way too eager")
	require.Equal(t, 1.0, r.Score)
}

func TestParseJudgeResponse_Unparseable(t *testing.T) {
	r := parseJudgeResponse("I cannot grade this input.")
	require.Equal(t, 0.0, r.Score)
	require.Equal(t, "I cannot grade this input.", r.Rationale)
}
