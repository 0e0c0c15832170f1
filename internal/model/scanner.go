package model

// Scanner is the connection/config record for a scanner backend (spec §3).
type Scanner struct {
	UUID       string      `db:"uuid"`
	Name       string      `db:"name"`
	Kind       ScannerKind `db:"kind"`
	Host       string      `db:"host"`
	Port       int         `db:"port"`
	UnixSocket string      `db:"unix_socket"` // alternative to Host:Port
	CACert     string      `db:"ca_cert"`
	ClientCert string      `db:"client_cert"`
	ClientKey  string      `db:"client_key"`
}

// SupportsResume reports whether a task on this scanner kind can be
// resumed: true for every kind except the Agent Controller family.
func (s Scanner) SupportsResume() bool {
	// Agent Controller dispatch explicitly does not support resume
	// (spec §4.E: "Resume is not supported").
	return s.Kind != ScannerAgentController && s.Kind != ScannerAgentControllerSensor
}
