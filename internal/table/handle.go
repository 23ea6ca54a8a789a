package table

import "errors"

// Handle owns an open control device. The zero value is a closed handle.
type Handle struct {
	dev Device
}

// Open acquires the control device described by cfg. The caller must Close
// the returned handle on every path, including after failed operations.
func Open(cfg Config) (*Handle, error) {
	open, err := cfg.opener()
	if err != nil {
		return nil, &Error{Op: "open", Kind: KindDeviceUnavailable, Err: err}
	}
	dev, err := open(cfg)
	if err != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == KindDeviceUnavailable {
			return nil, err
		}
		return nil, &Error{Op: "open", Kind: KindDeviceUnavailable, Code: errnoOf(err), Err: err}
	}
	if dev == nil {
		return nil, &Error{Op: "open", Kind: KindDeviceUnavailable, Err: errors.New("backend returned no device")}
	}
	return &Handle{dev: dev}, nil
}

// IsOpen reports whether h holds an open device.
func (h *Handle) IsOpen() bool {
	return h != nil && h.dev != nil
}

// Close releases the device. A second Close, or Close on a handle that was
// never opened, returns ErrInvalidHandle.
func (h *Handle) Close() error {
	if !h.IsOpen() {
		return &Error{Op: "close", Kind: KindInvalidHandle}
	}
	dev := h.dev
	h.dev = nil
	if err := dev.Close(); err != nil {
		return deviceError("close", "", "", err)
	}
	return nil
}

// EnsureTable creates the table in anchor unless it already exists. Repeated
// calls with the same arguments succeed.
func (h *Handle) EnsureTable(anchor, name string) error {
	if !h.IsOpen() {
		return &Error{Op: "ensure", Kind: KindInvalidHandle, Anchor: anchor, Table: name}
	}
	if err := validateNames("ensure", anchor, name, h.dev); err != nil {
		return err
	}
	if _, err := h.dev.AddTable(anchor, name); err != nil {
		return deviceError("ensure", anchor, name, err)
	}
	return nil
}

// AddAddresses inserts a single-family batch into an existing table and
// returns how many entries were new. Entries already present are not errors.
// The batch is validated in full before the device is contacted.
func (h *Handle) AddAddresses(anchor, name string, addrs []Address) (int, error) {
	if !h.IsOpen() {
		return 0, &Error{Op: "add", Kind: KindInvalidHandle, Anchor: anchor, Table: name}
	}
	if err := validateNames("add", anchor, name, h.dev); err != nil {
		return 0, err
	}
	fam, err := validateBatch(addrs)
	if err != nil {
		return 0, &Error{Op: "add", Kind: KindInvalidAddressFamily, Anchor: anchor, Table: name, Err: err}
	}
	n, err := h.dev.AddAddrs(anchor, name, fam, addrs)
	if err != nil {
		return 0, deviceError("add", anchor, name, err)
	}
	return n, nil
}
