package fieldbus

import (
	"github.com/simonvetter/modbus"
	"github.com/tbrandon/mbserver"
)

// MEI type for Read Device Identification (function 43).
const meiReadDeviceID = 0x0E

// Read device ID codes.
const (
	readDeviceIDBasic    = 0x01
	readDeviceIDRegular  = 0x02
	readDeviceIDExtended = 0x03
	readDeviceIDSpecific = 0x04
)

// conformityRegular reports the regular object set with both stream and
// individual access.
const conformityRegular = 0x82

// Identity holds the device identification objects 0x00 to 0x05.
type Identity struct {
	VendorName  string
	ProductCode string
	Revision    string
	VendorURL   string
	ProductName string
	ModelName   string
}

// DefaultIdentity describes this gateway. An empty version reads as "dev".
func DefaultIdentity(version string) Identity {
	if version == "" {
		version = "dev"
	}
	return Identity{
		VendorName:  "neasmart-gateway",
		ProductCode: "NEAGW",
		Revision:    version,
		VendorURL:   "https://github.com/nerrad567/neasmart-gateway",
		ProductName: "NEA SMART register gateway",
		ModelName:   "neasmartd",
	}
}

// objects returns the non-empty objects keyed by object id, in id order.
func (id Identity) objects() []deviceObject {
	all := []deviceObject{
		{0x00, id.VendorName},
		{0x01, id.ProductCode},
		{0x02, id.Revision},
		{0x03, id.VendorURL},
		{0x04, id.ProductName},
		{0x05, id.ModelName},
	}
	out := all[:0]
	for _, o := range all {
		if o.value != "" {
			out = append(out, o)
		}
	}
	return out
}

type deviceObject struct {
	id    byte
	value string
}

// ReadDeviceIdentification builds the data of a function 43 / MEI 0x0E
// response. Stream codes return every object from objectID up to the end of
// the requested category; code 4 returns exactly one object.
func (h *Handler) ReadDeviceIdentification(code, objectID byte) ([]byte, error) {
	var upper int
	switch code {
	case readDeviceIDBasic:
		upper = 0x03
	case readDeviceIDRegular:
		upper = 0x80
	case readDeviceIDExtended:
		upper = 0x100
	case readDeviceIDSpecific:
		upper = int(objectID) + 1
	default:
		h.observe(tableDeviceID, resultBadValue)
		return nil, modbus.ErrIllegalDataValue
	}

	objects := h.identity.objects()
	selected := pick(objects, int(objectID), upper)
	if len(selected) == 0 {
		if code == readDeviceIDSpecific {
			h.observe(tableDeviceID, resultAddress)
			return nil, modbus.ErrIllegalDataAddress
		}
		// An unknown start object restarts the stream at the first one.
		selected = pick(objects, 0, upper)
	}

	resp := []byte{meiReadDeviceID, code, conformityRegular, 0x00, 0x00, byte(len(selected))}
	for _, o := range selected {
		resp = append(resp, o.id, byte(len(o.value)))
		resp = append(resp, o.value...)
	}
	h.observe(tableDeviceID, resultOK)
	return resp, nil
}

func pick(objects []deviceObject, lower, upper int) []deviceObject {
	var out []deviceObject
	for _, o := range objects {
		if int(o.id) >= lower && int(o.id) < upper {
			out = append(out, o)
		}
	}
	return out
}

// readDeviceIdentification serves function 43 on the serial line.
func readDeviceIdentification(f mbserver.Framer, h *Handler) ([]byte, *mbserver.Exception) {
	data := f.GetData()
	if len(data) < 3 || data[0] != meiReadDeviceID {
		return []byte{}, &mbserver.IllegalDataValue
	}
	resp, err := h.ReadDeviceIdentification(data[1], data[2])
	if err != nil {
		return []byte{}, exception(err)
	}
	return resp, &mbserver.Success
}
