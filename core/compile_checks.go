package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ Clock           = SystemClock{}
	_ Clock           = (*FixedClock)(nil)
	_ Clock           = ClockFunc(nil)
	_ RandomSource    = CryptoRandom{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
