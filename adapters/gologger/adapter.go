// Package gologger resolves the process loggers and bridges them to go-job.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Loggers is a resolved glog provider together with its go-job bridges, so
// the notification queue logs through the same sink as everything else.
type Loggers struct {
	Provider    glog.LoggerProvider
	Logger      glog.Logger
	JobProvider job.LoggerProvider
	JobLogger   job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

func ResolveForJob(name string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	out := Loggers{Provider: resolvedProvider, Logger: resolvedLogger}
	if resolvedProvider != nil {
		out.JobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	if resolvedLogger != nil {
		out.JobLogger = job.GoLogger(resolvedLogger)
	}
	return out
}

// Named returns the component logger, e.g. "orchestrator" or "payment".
func (l Loggers) Named(name string) glog.Logger {
	if l.Provider == nil {
		return glog.Nop()
	}
	return l.Provider.GetLogger(name)
}

func (l Loggers) NamedJob(name string) job.Logger {
	if l.JobProvider == nil {
		return l.JobLogger
	}
	return l.JobProvider.GetLogger(name)
}
