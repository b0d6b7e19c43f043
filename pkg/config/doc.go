// Package config loads the optional quarry.cue workspace configuration.
//
// Configuration is expressed in CUE and checked against a builtin schema
// before being decoded over the defaults, so a partial file only needs
// to name the values it changes. Struct-level constraints are enforced
// with validator tags after decoding.
package config
