package models

import (
	"errors"
	"fmt"
)

// TransientStoreError wraps timeouts and connection failures talking to a
// store. These are retried on the next scheduled run, never inline.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error: %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func NewTransientStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// DataQualityError marks a symbol or day that must be skipped: insufficient
// history, malformed OHLC, unordered input.
type DataQualityError struct {
	Symbol string
	Reason string
}

func (e *DataQualityError) Error() string {
	if e.Symbol == "" {
		return "data quality: " + e.Reason
	}
	return fmt.Sprintf("data quality: %s: %s", e.Symbol, e.Reason)
}

func NewDataQualityError(symbol, reason string) error {
	return &DataQualityError{Symbol: symbol, Reason: reason}
}

// ConfigurationError is returned synchronously for invalid filters,
// unknown timeframes and similar caller mistakes.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

func IsTransient(err error) bool {
	var t *TransientStoreError
	return errors.As(err, &t)
}

func IsDataQuality(err error) bool {
	var d *DataQualityError
	return errors.As(err, &d)
}

func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}
