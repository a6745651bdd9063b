// Package modelcatalog names the model DEFAULT_MODEL falls back to, and
// resolves an optional model identifier against it, using the Anthropic SDK's typed Model
// constants rather than a hand-written string, per
// features/model/anthropic.Options's own recommendation ("prefer the
// anthropic-sdk-go Model constants or the IDs from Anthropic's model
// documentation").
package modelcatalog

import (
	sdk "github.com/anthropics/anthropic-sdk-go"
)

// Default is the model a new session falls back to when DEFAULT_MODEL names
// nothing else.
const Default sdk.Model = sdk.ModelClaudeSonnet4_5_20250929

// Resolve returns modelID as an sdk.Model, or Default when modelID is empty.
// Any non-empty modelID is passed through untouched, not only the ones this
// catalog recognizes by constant.
func Resolve(modelID string) sdk.Model {
	if modelID == "" {
		return Default
	}
	return sdk.Model(modelID)
}
