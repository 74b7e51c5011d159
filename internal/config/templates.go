package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "vcsrpcd"
listen = "127.0.0.1:1666"
http_listen = "127.0.0.1:1667"
root = "."
accept_rate = 50.0
accept_burst = 10
compress = false

[transport]
send_buffer = 65536
recv_buffer = 65536
max_wait = "30s"
poll_interval = "500ms"
compression_level = 6

[flow]
lomark = 700
min_himark = 2000

[tls]
mode = "development"
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `name = "vcsrpc"
addr = "tcp://127.0.0.1:1666"
compress = false

[transport]
send_buffer = 65536
recv_buffer = 65536
max_wait = "30s"
poll_interval = "500ms"

[flow]
lomark = 700
min_himark = 2000

[tls]
mode = "development"
enabled = false

[backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true
max_attempts = 5
`
