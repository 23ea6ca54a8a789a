//go:build !linux && !darwin && !freebsd

package table

const defaultBackend = BackendPF
