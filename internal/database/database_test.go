package database

import "testing"

func TestMongoDatabaseName(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/tellecast", "tellecast"},
		{"mongodb://localhost:27017/other?retryWrites=true", "other"},
		{"mongodb+srv://u:p@cluster.example.net/?retryWrites=true", "tellecast"},
		{"mongodb://localhost:27017", "tellecast"},
	}
	for _, tt := range tests {
		if got := mongoDatabaseName(tt.uri); got != tt.want {
			t.Errorf("mongoDatabaseName(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
