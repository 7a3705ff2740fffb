package collectors

import (
	"telemetry-backbone/src/interfaces"
)

var (
	_ interfaces.ICollector         = (*MarketDataCollector)(nil)
	_ interfaces.ICollector         = (*StrategyCollector)(nil)
	_ interfaces.ICollector         = (*ExecutionCollector)(nil)
	_ interfaces.ICollector         = (*SystemCollector)(nil)
	_ interfaces.ITickIngester      = (*MarketDataCollector)(nil)
	_ interfaces.ISignalRecorder    = (*StrategyCollector)(nil)
	_ interfaces.ITradeRecorder     = (*StrategyCollector)(nil)
	_ interfaces.IExecutionRecorder = (*ExecutionCollector)(nil)
)
