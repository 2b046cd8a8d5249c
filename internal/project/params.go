package project

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SecretMask replaces SECRET parameter values wherever they leave the engine.
const SecretMask = "****"

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// ManualKey is the parameter-values key carrying a manual block parameter.
func ManualKey(blockID, param string) string {
	return blockID + "." + param
}

// ValidateParameters checks release parameter values against the project's
// declared parameters and the manual parameters of its blocks.
func ValidateParameters(p *Project, values map[string]string) ValidationResult {
	res := ValidationResult{Valid: true}
	known := make(map[string]bool)

	for _, param := range p.Parameters {
		known[param.Name] = true
		value, ok := values[param.Name]
		if !ok && param.Default != nil {
			value, ok = *param.Default, true
		}
		field := "parameter_values." + param.Name
		if !ok || value == "" {
			if !param.Optional {
				res.add(field, CodeRequired, "parameter %q is required", param.Name)
			}
			continue
		}
		checkValue(field, value, param.Type, param.Rules, &res)
	}

	walkBlocks(p.Graph, func(b Block) {
		for _, bp := range b.Parameters {
			if bp.Source.Kind != SourceManual {
				continue
			}
			key := ManualKey(b.ID, bp.Name)
			known[key] = true
			value, ok := values[key]
			if !ok || value == "" {
				if !bp.Optional {
					res.add("parameter_values."+key, CodeRequired, "manual parameter %q of block %q is required", bp.Name, b.ID)
				}
				continue
			}
			checkValue("parameter_values."+key, value, bp.Type, bp.Rules, &res)
		}
	})

	for key := range values {
		if !known[key] {
			res.add("parameter_values."+key, CodeUnknownParameter, "parameter %q is not declared by project %q", key, p.ID)
		}
	}
	return res
}

// ResolveProjectValues applies declared defaults to the submitted values.
func ResolveProjectValues(p *Project, values map[string]string) map[string]string {
	out := make(map[string]string, len(values)+len(p.Parameters))
	for k, v := range values {
		out[k] = v
	}
	for _, param := range p.Parameters {
		if _, ok := out[param.Name]; !ok && param.Default != nil {
			out[param.Name] = *param.Default
		}
	}
	return out
}

// OutputLookup returns the outputs recorded for a block, or false when it has none yet.
type OutputLookup func(blockID string) (map[string]string, bool)

// ResolveBlockParameters computes a block's parameter values from its sources.
// manual holds the block's manual values keyed by parameter name.
func ResolveBlockParameters(b Block, projectValues, manual map[string]string, outputs OutputLookup) (map[string]string, error) {
	resolved := make(map[string]string, len(b.Parameters))
	for _, bp := range b.Parameters {
		var (
			value string
			ok    bool
		)
		switch bp.Source.Kind {
		case SourceManual:
			value, ok = manual[bp.Name]
		case SourceProjectParameter:
			value, ok = projectValues[bp.Source.Parameter]
		case SourceBlockOutput:
			if out, found := outputs(bp.Source.Block); found {
				value, ok = out[bp.Source.Output]
			}
		case SourceDefault:
			value, ok = bp.Source.Value, true
		default:
			return nil, fmt.Errorf("parameter %q: unknown source %q", bp.Name, bp.Source.Kind)
		}
		if !ok {
			if bp.Optional {
				continue
			}
			return nil, fmt.Errorf("parameter %q: no value from %s source", bp.Name, bp.Source.Kind)
		}
		res := ValidationResult{Valid: true}
		checkValue(bp.Name, value, bp.Type, bp.Rules, &res)
		if !res.Valid {
			return nil, res.Err()
		}
		resolved[bp.Name] = value
	}
	return resolved, nil
}

// Render substitutes {{name}} placeholders, taking the first scope that has the
// name. Unknown placeholders are left in place.
func Render(template string, scopes ...map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		for _, scope := range scopes {
			if v, ok := scope[name]; ok {
				return v
			}
		}
		return m
	})
}

// SecretNames lists the project's SECRET parameters and SECRET manual block parameters.
func SecretNames(p *Project) map[string]bool {
	out := make(map[string]bool)
	for _, param := range p.Parameters {
		if strings.EqualFold(string(param.Type), string(ParamSecret)) {
			out[param.Name] = true
		}
	}
	walkBlocks(p.Graph, func(b Block) {
		for _, bp := range b.Parameters {
			if strings.EqualFold(string(bp.Type), string(ParamSecret)) {
				out[bp.Name] = true
				out[ManualKey(b.ID, bp.Name)] = true
			}
		}
	})
	return out
}

// Mask copies values with every secret replaced by SecretMask.
func Mask(values map[string]string, secrets map[string]bool) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if secrets[k] {
			out[k] = SecretMask
			continue
		}
		out[k] = v
	}
	return out
}

func checkValue(field, value string, typ ParameterType, rules []ValidationRule, res *ValidationResult) {
	switch ParameterType(strings.ToUpper(string(typ))) {
	case ParamNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			res.add(field, CodeInvalidValue, "%q is not a number", value)
		}
	case ParamBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			res.add(field, CodeInvalidValue, "%q is not a boolean", value)
		}
	case ParamURL:
		if !isURL(value) {
			res.add(field, CodeInvalidValue, "%q is not a URL", value)
		}
	case ParamEmail:
		if !isEmail(value) {
			res.add(field, CodeInvalidValue, "%q is not an email address", value)
		}
	}

	for _, rule := range rules {
		if msg, ok := applyRule(rule, value); !ok {
			if rule.Message != "" {
				msg = rule.Message
			}
			res.add(field, CodeInvalidValue, "%s", msg)
		}
	}
}

func applyRule(rule ValidationRule, value string) (string, bool) {
	switch ValidationType(strings.ToUpper(string(rule.Type))) {
	case RuleRequired:
		return "value is required", strings.TrimSpace(value) != ""
	case RuleMinLength:
		n, err := strconv.Atoi(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid MIN_LENGTH rule %q", rule.Value), false
		}
		return fmt.Sprintf("must be at least %d characters", n), utf8.RuneCountInString(value) >= n
	case RuleMaxLength:
		n, err := strconv.Atoi(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid MAX_LENGTH rule %q", rule.Value), false
		}
		return fmt.Sprintf("must be at most %d characters", n), utf8.RuneCountInString(value) <= n
	case RuleRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return fmt.Sprintf("invalid REGEX rule %q", rule.Value), false
		}
		return fmt.Sprintf("must match %s", rule.Value), re.MatchString(value)
	case RuleURLFormat:
		return "must be a URL", isURL(value)
	case RuleEmailFormat:
		return "must be an email address", isEmail(value)
	default:
		return fmt.Sprintf("unknown rule type %q", rule.Type), false
	}
}

func isURL(value string) bool {
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func isEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}
