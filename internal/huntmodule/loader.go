// Package huntmodule loads HuntModule spec files: a reference
// implementation of the external "hunt-module loader" collaborator
// named in spec.md §6. The file format is a YAML front-matter block
// (id, name, description, os_types, tags, severity_hint) followed by
// one section per step, each a labeled-field block (description,
// command, timeout, requires_sudo). Grounded on the teacher's
// markdown-with-frontmatter convention used for its own ticket/spec
// documents (front matter delimited by --- lines, parsed with
// gopkg.in/yaml.v3), adapted here to a step-sectioned body instead of
// a single free-text document.
package huntmodule

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

type frontMatter struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	OSTypes      []string `yaml:"os_types"`
	Tags         []string `yaml:"tags"`
	SeverityHint string   `yaml:"severity_hint"`
}

// Parse reads a hunt-module spec file's full text and returns the
// decoded HuntModule. Step sections must appear in execution order;
// Parse preserves that order in HuntModule.Steps.
func Parse(text string) (domain.HuntModule, error) {
	front, body, err := splitFrontMatter(text)
	if err != nil {
		return domain.HuntModule{}, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return domain.HuntModule{}, fmt.Errorf("huntmodule: parsing front matter: %w", err)
	}
	if fm.ID == "" {
		return domain.HuntModule{}, fmt.Errorf("huntmodule: front matter is missing required field 'id'")
	}

	moduleID, err := ids.ParseHuntModuleID(fm.ID)
	if err != nil {
		return domain.HuntModule{}, err
	}

	steps, err := parseSteps(body)
	if err != nil {
		return domain.HuntModule{}, err
	}
	if len(steps) == 0 {
		return domain.HuntModule{}, fmt.Errorf("huntmodule: %s has no steps", fm.ID)
	}

	osTypes := make([]domain.OSTag, 0, len(fm.OSTypes))
	for _, t := range fm.OSTypes {
		osTypes = append(osTypes, domain.OSTag(t))
	}

	return domain.HuntModule{
		ID:           moduleID,
		Name:         fm.Name,
		Description:  fm.Description,
		OSTypes:      osTypes,
		Tags:         fm.Tags,
		SeverityHint: domain.Severity(fm.SeverityHint),
		Steps:        steps,
	}, nil
}

// splitFrontMatter separates the leading "---\n...\n---\n" YAML block
// from the remainder of the document.
func splitFrontMatter(text string) (front, body string, err error) {
	text = strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(text, "---") {
		return "", "", fmt.Errorf("huntmodule: document does not start with a '---' front-matter delimiter")
	}
	rest := strings.TrimPrefix(text, "---")
	rest = strings.TrimPrefix(rest, "\n")

	idx := strings.Index(rest, "\n---")
	if idx == -1 {
		return "", "", fmt.Errorf("huntmodule: unterminated front matter (missing closing '---')")
	}
	front = rest[:idx]
	body = rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}

// stepSectionPrefix marks a new step section, e.g. "## step: enum_users".
const stepSectionPrefix = "## step:"

// parseSteps walks the body line by line, splitting it into sections
// by stepSectionPrefix headers and decoding each section's
// labeled fields.
func parseSteps(body string) ([]domain.Step, error) {
	var steps []domain.Step
	var currentID string
	fields := map[string]string{}

	flush := func() error {
		if currentID == "" {
			return nil
		}
		step, err := stepFromFields(currentID, fields)
		if err != nil {
			return err
		}
		steps = append(steps, step)
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	var currentField string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, stepSectionPrefix) {
			if err := flush(); err != nil {
				return nil, err
			}
			currentID = strings.TrimSpace(strings.TrimPrefix(trimmed, stepSectionPrefix))
			fields = map[string]string{}
			currentField = ""
			continue
		}
		if trimmed == "" || currentID == "" {
			continue
		}

		if label, value, ok := strings.Cut(trimmed, ":"); ok && isKnownField(strings.TrimSpace(label)) {
			currentField = strings.TrimSpace(label)
			fields[currentField] = strings.TrimSpace(value)
			continue
		}
		// Continuation line of a multi-line field (e.g. a long command).
		if currentField != "" {
			fields[currentField] += "\n" + line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("huntmodule: scanning body: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return steps, nil
}

func isKnownField(label string) bool {
	switch label {
	case "description", "command", "timeout", "requires_sudo":
		return true
	default:
		return false
	}
}

func stepFromFields(id string, fields map[string]string) (domain.Step, error) {
	if fields["command"] == "" {
		return domain.Step{}, fmt.Errorf("huntmodule: step %q has no command", id)
	}

	timeout := 30
	if raw, ok := fields["timeout"]; ok && raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return domain.Step{}, fmt.Errorf("huntmodule: step %q has invalid timeout %q: %w", id, raw, err)
		}
		timeout = parsed
	}

	requiresSudo := false
	if raw, ok := fields["requires_sudo"]; ok {
		requiresSudo = strings.EqualFold(raw, "true")
	}

	return domain.Step{
		ID:             id,
		Description:    fields["description"],
		Command:        fields["command"],
		TimeoutSeconds: timeout,
		RequiresSudo:   requiresSudo,
	}, nil
}

// Render serializes a HuntModule back to the spec file format, used
// by the Gateway's hunt-module create/update operations (spec.md §6).
func Render(m domain.HuntModule) (string, error) {
	fm := frontMatter{
		ID:           m.ID.String(),
		Name:         m.Name,
		Description:  m.Description,
		SeverityHint: string(m.SeverityHint),
	}
	for _, t := range m.OSTypes {
		fm.OSTypes = append(fm.OSTypes, string(t))
	}
	fm.Tags = m.Tags

	front, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("huntmodule: rendering front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	for _, s := range m.Steps {
		fmt.Fprintf(&b, "%s %s\n", stepSectionPrefix, s.ID)
		fmt.Fprintf(&b, "description: %s\n", s.Description)
		fmt.Fprintf(&b, "command: %s\n", s.Command)
		fmt.Fprintf(&b, "timeout: %d\n", s.TimeoutSeconds)
		fmt.Fprintf(&b, "requires_sudo: %t\n\n", s.RequiresSudo)
	}
	return b.String(), nil
}
