package version

// Current is the released version of the enricher, without a leading "v".
const Current = "0.3.0"
