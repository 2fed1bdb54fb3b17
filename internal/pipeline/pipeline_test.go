package pipeline_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/springql-go/springql/internal/apperr"
	"github.com/springql-go/springql/internal/config"
	"github.com/springql-go/springql/internal/pipeline"
)

const passthroughDDL = `
CREATE SOURCE STREAM source_trade (
  ts TIMESTAMP NOT NULL ROWTIME,
  ticker TEXT NOT NULL,
  amount INTEGER NOT NULL
);

CREATE SINK STREAM sink_trade (
  ts TIMESTAMP NOT NULL ROWTIME,
  ticker TEXT NOT NULL,
  amount INTEGER NOT NULL
);

CREATE PUMP pu_passthrough AS
  INSERT INTO sink_trade (ts, ticker, amount)
  SELECT STREAM ts AS ts, ticker AS ticker, amount AS amount
  FROM source_trade;

CREATE SINK WRITER queue_sink_trade FOR sink_trade
  TYPE IN_MEMORY_QUEUE OPTIONS (
    CAPACITY '10'
  );
`

func openTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Open(config.Default(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCommandInstallsPipelineAndRegistersInMemoryQueueWriter(t *testing.T) {
	p := openTestPipeline(t)

	require.NoError(t, p.Command(passthroughDDL))

	_, err := p.Pop("queue_sink_trade", 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InputTimeout), "expected InputTimeout on an empty queue, got %v", err)
}

func TestPopRejectsUnknownQueueName(t *testing.T) {
	p := openTestPipeline(t)

	require.NoError(t, p.Command(passthroughDDL))

	_, err := p.Pop("no_such_queue", time.Millisecond)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidConfig))
}

func TestCommandRejectsUnsatisfiableEngineVersionConstraint(t *testing.T) {
	p := openTestPipeline(t)

	err := p.Command(`ENGINE_VERSION REQUIRES '>=99.0.0';`)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InvalidConfig))
}

func TestCommandRejectsMalformedDDL(t *testing.T) {
	p := openTestPipeline(t)

	err := p.Command(`CREATE TABLE not_a_stream (a INTEGER);`)
	require.Error(t, err)
}

func TestCommandAcceptsSatisfiableEngineVersionConstraint(t *testing.T) {
	p := openTestPipeline(t)

	require.NoError(t, p.Command(`ENGINE_VERSION REQUIRES '>=1.0.0, <2.0.0';`))
	require.NoError(t, p.Command(passthroughDDL))
}
