package types //nolint:revive // types is a valid package name

// Version is the canonical project version, shared by the CLI and the
// notification payloads.
const Version = "0.2.0"

// ContractVersion is the version stamped on peer lifecycle notifications.
// It moves in lockstep with Version.
const ContractVersion = Version
