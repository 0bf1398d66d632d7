package inbound

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

// inboundError builds an envelope whose http code follows the category;
// the receiver answers with Result.StatusCode, which may differ.
func inboundError(message string, category goerrors.Category, textCode string, metadata map[string]any) error {
	return withMetadata(core.NewError(message, category, textCode), metadata)
}

func inboundWrapError(source error, category goerrors.Category, message string, textCode string, metadata map[string]any) error {
	return withMetadata(core.WrapError(source, category, message, textCode), metadata)
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryBadInput, core.ErrorBadInput, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryInternal, core.ErrorInternal, metadata)
}

func withMetadata(err *goerrors.Error, metadata map[string]any) error {
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
