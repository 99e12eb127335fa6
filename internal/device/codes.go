package device

import "fmt"

// Vendor library status codes, used to name driver failures in status
// details.
var codeNames = map[int]string{
	0:    "SUCCESS",
	-99:  "PORT_OPEN_ERROR",
	-100: "NO_CONNECTED_PRINTER",
	-101: "NO_VENDOR_PRINTER",
	-102: "FAIL_SEND_DATA",
	-103: "DISCONNECTED_PRINTER",
	-104: "PORT_SET_ERROR",
	-105: "WRITE_ERROR",
	-106: "READ_ERROR",
	-107: "BT_SDPCONNECT_ERROR",
	-108: "BT_SDPSEARCH_ERROR",
	-109: "BT_SOCKET_ERROR",
	-110: "BT_BIND_ERROR",
	-111: "BT_CONNECT_ERROR",
	-112: "INVALID_IPADDRESS",
	-113: "FAIL_CREATE_SOCKET",
	-115: "WRONG_BARCODE_TYPE",
	-116: "WRONG_BC_DATA_ERROR",
	-117: "BAD_ARGUMENT",
	-118: "IMAGE_OPEN_ERROR",
	-119: "BAD_FILE",
	-120: "MEM_ALLOC_ERROR",
	-121: "NV_NO_KEY",
	-122: "WRONG_RESPONSE",
	-123: "FAIL_CREATE_THREAD",
	-124: "NOT_SUPPORT",
	-125: "FAIL_FIND_SENTINEL",
	-126: "SCR_RESPONSE_ERROR",
	-127: "READ_TIMEOUT",
	-128: "DISABLE_BCD",
}

// CodeName returns the symbolic name of a vendor status code.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", code)
}

// CodeError is a driver failure carrying a vendor status code. Drivers
// that talk to real hardware return it so status details can name the
// code symbolically.
type CodeError struct {
	Code int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("%s (%d)", CodeName(e.Code), e.Code)
}
