// Package policy gates sandbox process admission with Rego policies. The
// built-in policies deny undeclared network access, credential-like
// environment variables and output globs that escape the sandbox;
// workspaces can layer their own .rego files on top.
package policy
