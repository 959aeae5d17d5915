// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a Logger (usually derived via With) instead of a raw
// zerolog.Logger so that sink/level changes applied at runtime through the
// Service are picked up by every derived logger without re-wiring.
package logx
