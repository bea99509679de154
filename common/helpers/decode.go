package helpers

import (
	"fmt"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"reflect"
	"time"
)

/**
per-backend settings, decoded out of the free-form `backends` section of the config
*/
type BackendSettings struct {
	//shell fragment that sets up the experiment environment on the execution host. %PLATFORM% is substituted.
	EnvBootstrap string `mapstructure:"envBootstrap"`
	//extra patterns to collect back in the output sandbox
	OutputPatterns []string `mapstructure:"outputPatterns"`
	//kubernetes job template used by the batch launcher
	JobTemplate string `mapstructure:"jobTemplate"`
	//how long a single transfer may take before the uploader gives up on that SE
	TransferTimeout time.Duration `mapstructure:"transferTimeout"`
}

/**
look up and decode the settings for the given backend name. A missing section is not an error,
you just get zero-valued settings
*/
func (c *Config) SettingsFor(backendName string) (*BackendSettings, error) {
	var s BackendSettings
	raw, haveRaw := c.Backends[backendName]
	if !haveRaw {
		return &s, nil
	}
	decodeErr := CustomisedMapStructureDecode(raw, &s)
	if decodeErr != nil {
		return nil, fmt.Errorf("could not decode settings for backend %s: %s", backendName, decodeErr)
	}
	return &s, nil
}

/**
convenience function to perform a mapstructure decode using the customised decode hook below,
to handle UUID, timestamp and duration strings
*/
func CustomisedMapStructureDecode(incoming interface{}, outgoing interface{}) error {
	decoder, setupErr := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructureDecodeHook,
		Result:     outgoing,
	})
	if setupErr != nil {
		return setupErr
	}
	return decoder.Decode(incoming)
}

/**
this custom decode hook will perform a few extra conversions:
- string -> uuid.UUID
- string -> time.Time, as an RFC 3339 timestamp
- string -> time.Duration, e.g. "90s" or "5m"
- int -> time.Duration, taken as a number of seconds
anything else is passed through unchanged
*/
func mapstructureDecodeHook(inType reflect.Type, outType reflect.Type, value interface{}) (interface{}, error) {
	if inType == reflect.TypeOf("") && outType == reflect.TypeOf(uuid.UUID{}) {
		return uuid.Parse(value.(string))
	} else if inType == reflect.TypeOf("") && outType == reflect.TypeOf(time.Time{}) {
		return time.Parse(time.RFC3339, value.(string))
	} else if inType == reflect.TypeOf("") && outType == reflect.TypeOf(time.Duration(0)) {
		return time.ParseDuration(value.(string))
	} else if inType == reflect.TypeOf(0) && outType == reflect.TypeOf(time.Duration(0)) {
		return time.Duration(value.(int)) * time.Second, nil
	} else {
		return value, nil
	}
}
