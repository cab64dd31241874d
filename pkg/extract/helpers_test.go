package extract_test

import (
	"context"

	"github.com/ninjra/autocapture-pipeline/pkg/pluginrt"
)

func contextBackground() context.Context {
	return context.Background()
}

func pluginCallContext() pluginrt.CallContext {
	return pluginrt.CallContext{RunID: "test-run", TsMs: 1000}
}
