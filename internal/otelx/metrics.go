package otelx

import "go.opentelemetry.io/otel/metric"

// Metrics holds all kestrel metrics instruments, shared across the gateway
// and the three worker processes.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	TaskDuration      metric.Float64Histogram
	TaskQueueDepth    metric.Int64UpDownCounter
	LLMCallDuration   metric.Float64Histogram
	TokensUsed        metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	KeyRotations      metric.Int64Counter
	KeyQuarantines    metric.Int64Counter
	ActiveTasks       metric.Int64UpDownCounter
	SSEConnections    metric.Int64UpDownCounter
	StreamTokens      metric.Int64Counter
	RateLimitRejects  metric.Int64Counter
	IngestChunks      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("kestrel.request.duration",
		metric.WithDescription("Gateway request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("kestrel.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskQueueDepth, err = meter.Int64UpDownCounter("kestrel.task.queue_depth",
		metric.WithDescription("Pending task count per queue"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("kestrel.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("kestrel.llm.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.RetrievalDuration, err = meter.Float64Histogram("kestrel.retrieval.duration",
		metric.WithDescription("Vector retrieval duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.KeyRotations, err = meter.Int64Counter("kestrel.keyrotation.selections",
		metric.WithDescription("Provider key selections"),
	)
	if err != nil {
		return nil, err
	}

	m.KeyQuarantines, err = meter.Int64Counter("kestrel.keyrotation.quarantines",
		metric.WithDescription("Keys placed into cooldown after a 429"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("kestrel.task.active",
		metric.WithDescription("Number of tasks currently being processed"),
	)
	if err != nil {
		return nil, err
	}

	m.SSEConnections, err = meter.Int64UpDownCounter("kestrel.sse.connections",
		metric.WithDescription("Open SSE connections"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamTokens, err = meter.Int64Counter("kestrel.stream.tokens",
		metric.WithDescription("Total streaming tokens delivered over SSE"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("kestrel.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.IngestChunks, err = meter.Int64Counter("kestrel.ingest.chunks",
		metric.WithDescription("Document chunks written to the vector store"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
