package version

// Current is the dataflow-sync release version, without a leading "v".
const Current = "0.1.0"
