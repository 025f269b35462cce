package types

// Version of the core, reported by the status call and sent as User-Agent.
const Version = "0.1.0"
