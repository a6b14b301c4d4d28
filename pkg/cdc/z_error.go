package cdc

import "github.com/pkg/errors"

var EmitterStoppedErr = errors.New("cdc: emitter stopped, change set dropped")
