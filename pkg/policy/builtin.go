package policy

// GetBuiltinPolicies returns the policies compiled into every engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "deny-network",
			Description: "Deny network access unless the engine allows it",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package quarry.sandbox

deny[msg] {
	input.process.network
	not input.allow_network
	msg := sprintf("process %q requests network access, which is disabled", [input.process.description])
}
`,
		},
		{
			Name:        "deny-secret-env",
			Description: "Deny environment variables that look like credentials",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package quarry.sandbox

secret_markers := ["SECRET", "TOKEN", "PASSWORD", "PRIVATE_KEY"]

deny[msg] {
	env := input.process.env
	some name
	env[name]
	marker := secret_markers[_]
	contains(upper(name), marker)
	msg := sprintf("process %q passes credential-like variable %q into the sandbox", [input.process.description, name])
}
`,
		},
		{
			Name:        "deny-output-escape",
			Description: "Deny output globs that reach outside the sandbox",
			Severity:    SeverityError,
			Enabled:     true,
			Rego: `package quarry.sandbox

deny[msg] {
	g := input.process.output_globs[_]
	startswith(g, "/")
	msg := sprintf("process %q declares absolute output glob %q", [input.process.description, g])
}

deny[msg] {
	g := input.process.output_globs[_]
	contains(g, "..")
	msg := sprintf("process %q declares escaping output glob %q", [input.process.description, g])
}
`,
		},
	}
}
