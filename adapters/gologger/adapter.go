package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const rootLoggerName = "integrations"

// Components carries one named logger per subsystem.
type Components struct {
	Root      glog.Logger
	OAuth     glog.Logger
	Webhooks  glog.Logger
	RateLimit glog.Logger
	Jobs      glog.Logger
	Commands  glog.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ResolveComponents names each subsystem logger "<root>.<component>".
func ResolveComponents(root string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, Components) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = rootLoggerName
	}
	resolvedProvider, rootLogger := Resolve(root, provider, logger)
	named := func(component string) glog.Logger {
		if resolvedProvider == nil {
			return rootLogger
		}
		if l := resolvedProvider.GetLogger(root + "." + component); l != nil {
			return l
		}
		return rootLogger
	}
	return resolvedProvider, Components{
		Root:      rootLogger,
		OAuth:     named("oauth"),
		Webhooks:  named("webhooks"),
		RateLimit: named("ratelimit"),
		Jobs:      named("jobs"),
		Commands:  named("commands"),
	}
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
