package napi

import "strconv"

// Status is napi_status.
type Status int32

const (
	StatusOK Status = iota
	StatusInvalidArg
	StatusObjectExpected
	StatusStringExpected
	StatusNameExpected
	StatusFunctionExpected
	StatusNumberExpected
	StatusBooleanExpected
	StatusArrayExpected
	StatusGenericFailure
	StatusPendingException
	StatusCancelled
	StatusEscapeCalledTwice
	StatusHandleScopeMismatch
	StatusCallbackScopeMismatch
	StatusQueueFull
	StatusClosing
	StatusBigintExpected
	StatusDateExpected
	StatusArraybufferExpected
	StatusDetachableArraybufferExpected
	StatusWouldDeadlock
	StatusNoExternalBuffersAllowed
	StatusCannotRunJS
)

// Messages reported through napi_get_last_error_info, indexed by status.
var statusMessages = [...]string{
	StatusOK:                            "",
	StatusInvalidArg:                    "Invalid argument",
	StatusObjectExpected:                "An object was expected",
	StatusStringExpected:                "A string was expected",
	StatusNameExpected:                  "A string or symbol was expected",
	StatusFunctionExpected:              "A function was expected",
	StatusNumberExpected:                "A number was expected",
	StatusBooleanExpected:               "A boolean was expected",
	StatusArrayExpected:                 "An array was expected",
	StatusGenericFailure:                "Unknown failure",
	StatusPendingException:              "An exception is pending",
	StatusCancelled:                     "The async work item was cancelled",
	StatusEscapeCalledTwice:             "napi_escape_handle already called on scope",
	StatusHandleScopeMismatch:           "Invalid handle scope usage",
	StatusCallbackScopeMismatch:         "Invalid callback scope usage",
	StatusQueueFull:                     "Thread-safe function queue is full",
	StatusClosing:                       "Thread-safe function handle is closing",
	StatusBigintExpected:                "A bigint was expected",
	StatusDateExpected:                  "A date was expected",
	StatusArraybufferExpected:           "An arraybuffer was expected",
	StatusDetachableArraybufferExpected: "A detachable arraybuffer was expected",
	StatusWouldDeadlock:                 "Main thread would deadlock",
	StatusNoExternalBuffersAllowed:      "External buffers are not allowed",
	StatusCannotRunJS:                   "Cannot run JavaScript",
}

func (s Status) Error() string {
	if s >= 0 && int(s) < len(statusMessages) && s != StatusOK {
		return statusMessages[s]
	}
	return "napi status " + strconv.Itoa(int(s))
}

// ValueType is napi_valuetype.
type ValueType int32

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeSymbol
	TypeObject
	TypeFunction
	TypeExternal
	TypeBigInt
)

// TypedArrayType is napi_typedarray_type.
type TypedArrayType int32

const (
	Int8Array TypedArrayType = iota
	Uint8Array
	Uint8ClampedArray
	Int16Array
	Uint16Array
	Int32Array
	Uint32Array
	Float32Array
	Float64Array
	BigInt64Array
	BigUint64Array
)

var typedArrayNames = [...]string{
	"Int8Array", "Uint8Array", "Uint8ClampedArray", "Int16Array", "Uint16Array",
	"Int32Array", "Uint32Array", "Float32Array", "Float64Array",
	"BigInt64Array", "BigUint64Array",
}

func (t TypedArrayType) valid() bool { return t >= Int8Array && t <= BigUint64Array }

func (t TypedArrayType) String() string {
	if t.valid() {
		return typedArrayNames[t]
	}
	return "TypedArray(" + strconv.Itoa(int(t)) + ")"
}

// ElementSize returns the byte width of one element.
func (t TypedArrayType) ElementSize() uint32 {
	switch t {
	case Int16Array, Uint16Array:
		return 2
	case Int32Array, Uint32Array, Float32Array:
		return 4
	case Float64Array, BigInt64Array, BigUint64Array:
		return 8
	}
	return 1
}

// KeyCollectionMode is napi_key_collection_mode.
type KeyCollectionMode int32

const (
	KeyIncludePrototypes KeyCollectionMode = iota
	KeyOwnOnly
)

// KeyFilter is the napi_key_filter bit set.
type KeyFilter int32

const (
	KeyAllProperties KeyFilter = 0
	KeyWritable      KeyFilter = 1 << 0
	KeyEnumerable    KeyFilter = 1 << 1
	KeyConfigurable  KeyFilter = 1 << 2
	KeySkipStrings   KeyFilter = 1 << 3
	KeySkipSymbols   KeyFilter = 1 << 4
)

// KeyConversion is napi_key_conversion.
type KeyConversion int32

const (
	KeyKeepNumbers KeyConversion = iota
	KeyNumbersToStrings
)

// PropertyAttributes is napi_property_attributes.
type PropertyAttributes int32

const (
	Default      PropertyAttributes = 0
	Writable     PropertyAttributes = 1 << 0
	Enumerable   PropertyAttributes = 1 << 1
	Configurable PropertyAttributes = 1 << 2
	Static       PropertyAttributes = 1 << 10

	// attributes of properties created by assignment
	defaultJSProperty = Writable | Enumerable | Configurable
)

// Version reported by napi_get_version.
const Version = 9

// NodeVersion reported by napi_get_node_version.
var NodeVersion = struct {
	Major, Minor, Patch uint32
	Release             string
}{20, 11, 0, "node"}

// autoLength is NAPI_AUTO_LENGTH on wasm32.
const autoLength = ^uint32(0)
