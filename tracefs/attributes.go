package tracefs

import (
	"go.opentelemetry.io/otel/attribute"
)

type attributeKV = attribute.KeyValue

const (
	typeKey    = attribute.Key("transport.type")
	schemeKey  = attribute.Key("transport.scheme")
	baseURLKey = attribute.Key("transport.base_url")
	keyKey     = attribute.Key("content.key")
	existsKey  = attribute.Key("content.exists")

	bytesReadKey    = attribute.Key("content.bytes_read")
	bytesWrittenKey = attribute.Key("content.bytes_written")
	sizeKey         = attribute.Key("content.size")
	errorKindKey    = attribute.Key("error.kind")
)

// The type of transport being operated on.
//
// Type: string
// Required: No
// Examples: "*httpfs.httpTransport", "*filefs.fileTransport"
func Type(name string) attribute.KeyValue {
	return typeKey.String(name)
}

// The locator scheme of the transport.
//
// Type: string
// Required: Yes
// Examples: "file", "s3", "ftp"
func Scheme(scheme string) attribute.KeyValue {
	return schemeKey.String(scheme)
}

// The base URL of the transport. Never includes credentials.
//
// Type: string
// Required: No
// Examples: "https://example.com/files/"
func BaseURL(url string) attribute.KeyValue {
	return baseURLKey.String(url)
}

// The key being operated on.
//
// Type: string
// Required: No
// Examples: "README.md", "example/directory/foo.txt"
func Key(name string) attribute.KeyValue {
	return keyKey.String(name)
}

// Whether an Exists check found the key.
//
// Type: bool
// Required: No
func KeyExists(ok bool) attribute.KeyValue {
	return existsKey.Bool(ok)
}

// The content length reported by the backend.
//
// Type: int64
// Required: No
// Examples: 1024, 0
func ContentSize(n int64) attribute.KeyValue {
	return sizeKey.Int64(n)
}

// The number of bytes read, by Get or over the life of a stream.
//
// Type: int64
// Required: No
// Examples: 1024, 0
func BytesRead(n int64) attribute.KeyValue {
	return bytesReadKey.Int64(n)
}

// The number of bytes written by Put.
//
// Type: int64
// Required: No
// Examples: 1024, 0
func BytesWritten(n int64) attribute.KeyValue {
	return bytesWrittenKey.Int64(n)
}

// The kind of a failed operation's error.
//
// Type: string
// Required: No
// Examples: "not found", "connection failed"
func ErrorKind(kind string) attribute.KeyValue {
	return errorKindKey.String(kind)
}
