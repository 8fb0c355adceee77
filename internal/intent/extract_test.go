package intent

import "testing"

func TestExtractBuildReference(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "jenkins url",
			text: "my build broke, log is at https://jenkins.example.com/job/app/123/console please help",
			want: "https://jenkins.example.com/job/app/123/console",
		},
		{
			name: "http url",
			text: "see http://ci.local/pipelines/9",
			want: "http://ci.local/pipelines/9",
		},
		{
			name: "bare instance id",
			text: "the pipeline instance is 4581923",
			want: "4581923",
		},
		{
			name: "url wins over id",
			text: "build 4581923 failed, log: https://gitlab.example.com/p/-/pipelines/4581923",
			want: "https://gitlab.example.com/p/-/pipelines/4581923",
		},
		{
			name: "short number ignored",
			text: "build 123 failed again",
			want: "",
		},
		{
			name: "no reference",
			text: "how do I deploy my application?",
			want: "",
		},
		{
			name: "empty text",
			text: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBuildReference(tt.text)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestExtractBuildReferenceIdempotent(t *testing.T) {
	text := "log at https://jenkins.example.com/job/app/42/console"
	first := ExtractBuildReference(text)
	second := ExtractBuildReference(text)
	if first != second {
		t.Errorf("Expected identical results, got %q then %q", first, second)
	}
}
