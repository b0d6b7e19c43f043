// Package sandbox executes external tools hermetically. A process sees
// only the files materialized from its declared input digest, receives an
// explicitly constructed environment instead of the ambient one, and has
// its declared output globs captured back into the digest store before the
// scratch directory is discarded.
//
// Results are cacheable by spec fingerprint. Non-zero exit codes and
// timeouts are data in the ProcessResult; only failures to set up or tear
// down the sandbox itself surface as errors.
package sandbox
