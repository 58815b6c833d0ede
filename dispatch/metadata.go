package dispatch

// Request metadata fields interpreted by dispatchers. Callers set these when
// creating a request; absent fields fall back to the documented defaults.
const (
	// MetadataService selects the service contract kind: "oracle" or "vrf".
	// Defaults to "vrf".
	MetadataService = "service"
	// MetadataNumWords is the VRF word count, decimal. Defaults to "1".
	MetadataNumWords = "num_words"
	// MetadataURL is the oracle fetch URL. Required for oracle requests.
	MetadataURL = "url"
	// MetadataMethod is the oracle HTTP method. Defaults to GET on-chain.
	MetadataMethod = "method"
	// MetadataJSONPath is the oracle dotted result path, e.g. "data.price".
	MetadataJSONPath = "json_path"
)
