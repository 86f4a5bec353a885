package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultQuestions is the built-in admission survey, asked in order.
var defaultQuestions = []string{
	"What's your name?",
	"What's your age?",
	"Why do you want to join this group?",
	"How did you hear about us?",
	"What do you hope to contribute to the community?",
}

type questionsFile struct {
	Questions []string `yaml:"questions"`
}

// LoadQuestions reads an ordered survey question list from a YAML file.
// Blank entries are rejected rather than silently skipped: a misindented
// file should fail loudly, not shorten the survey.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var qf questionsFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if len(qf.Questions) == 0 {
		return nil, fmt.Errorf("%s contains no questions", path)
	}
	for i, q := range qf.Questions {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%s: question %d is blank", path, i+1)
		}
	}
	return qf.Questions, nil
}
