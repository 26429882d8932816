package replication

// EmptyRDB is the fixed, well-formed empty RDB snapshot sent verbatim
// after every FULLRESYNC. This server never persists to disk and never
// generates a real snapshot; every PSYNC gets exactly these 88 bytes.
var EmptyRDB = []byte{
	0x52, 0x45, 0x44, 0x49, 0x53, 0x30, 0x30, 0x31, 0x31, 0xfa, 0x09, 0x72,
	0x65, 0x64, 0x69, 0x73, 0x2d, 0x76, 0x65, 0x72, 0x05, 0x37, 0x2e, 0x32,
	0x2e, 0x30, 0xfa, 0x0a, 0x72, 0x65, 0x64, 0x69, 0x73, 0x2d, 0x62, 0x69,
	0x74, 0x73, 0xc0, 0x40, 0xfa, 0x05, 0x63, 0x74, 0x69, 0x6d, 0x65, 0xc2,
	0x6d, 0x08, 0xbc, 0x65, 0xfa, 0x08, 0x75, 0x73, 0x65, 0x64, 0x2d, 0x6d,
	0x65, 0x6d, 0xc2, 0xb0, 0xc4, 0x10, 0x00, 0xfa, 0x08, 0x61, 0x6f, 0x66,
	0x2d, 0x62, 0x61, 0x73, 0x65, 0xc0, 0x00, 0xff, 0xf0, 0x6e, 0x3b, 0xfe,
	0xc0, 0xff, 0x5a, 0xa2,
}

// MasterReplID is a fixed 40-hex placeholder replication ID. The spec
// allows any 40-hex string; this one is never meant to be pinned by
// callers.
const MasterReplID = "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb"
