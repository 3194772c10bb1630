package testdef

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateLoadTestScript(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name: "valid script",
			script: "import http from 'k6/http';\n" +
				"export default function () {\n  http.get('https://example.com');\n}\n",
			wantErr: false,
		},
		{
			name:    "missing import",
			script:  "export default function () {\n  console.log('no import');\n}\n",
			wantErr: true,
		},
		{
			name:    "missing default export",
			script:  "import http from 'k6/http';\nfunction run() {}\n",
			wantErr: true,
		},
		{
			name: "forbidden module",
			script: "import http from 'k6/http';\nimport fs from 'fs';\n" +
				"export default function () {}\n",
			wantErr: true,
		},
		{
			name: "top-level await",
			script: "import http from 'k6/http';\n" +
				"await http.get('https://example.com');\n" +
				"export default function () {}\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLoadTestScript(tt.script)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
