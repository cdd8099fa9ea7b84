package splitkv

const version = "0.1.0"

// CodeVersion returns the version of splitkv.
func CodeVersion() string {
	return version
}
