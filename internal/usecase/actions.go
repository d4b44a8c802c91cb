package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/tenantdesk/exojobs/internal/adapter/powershell"
	"github.com/tenantdesk/exojobs/internal/domain"
)

const (
	ActionGetOrganizationConfig = "Get-OrganizationConfig"
	ActionGetAcceptedDomain     = "Get-AcceptedDomain"
	ActionGetMailbox            = "Get-Mailbox"
	ActionGetMailboxStatistics  = "Get-MailboxStatistics"
	ActionGetTransportRule      = "Get-TransportRule"
)

const (
	jsonPipeline          = "ConvertTo-Json -Depth 4 -Compress"
	defaultMailboxResults = 100
)

// Action is one registry entry: how to build the command block for some
// params and how to read its output.
type Action struct {
	Name  string
	Build func(params map[string]interface{}) (string, error)
	Parse func(stdout string) (interface{}, error)
}

// ActionRegistry maps action names to their implementation
type ActionRegistry struct {
	actions map[string]Action
}

// NewActionRegistry creates a registry from the given actions.
// A later action with the same name replaces an earlier one.
func NewActionRegistry(actions ...Action) *ActionRegistry {
	r := &ActionRegistry{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		r.actions[a.Name] = a
	}
	return r
}

// DefaultActions returns the read-only Exchange Online actions
func DefaultActions() *ActionRegistry {
	return NewActionRegistry(
		Action{
			Name:  ActionGetOrganizationConfig,
			Build: fixedCommand("Get-OrganizationConfig"),
			Parse: parseJSON,
		},
		Action{
			Name:  ActionGetAcceptedDomain,
			Build: fixedCommand("Get-AcceptedDomain | Select-Object DomainName, DomainType, Default"),
			Parse: parseJSONList,
		},
		Action{
			Name:  ActionGetMailbox,
			Build: buildGetMailbox,
			Parse: parseJSONList,
		},
		Action{
			Name:  ActionGetMailboxStatistics,
			Build: buildGetMailboxStatistics,
			Parse: parseJSON,
		},
		Action{
			Name:  ActionGetTransportRule,
			Build: fixedCommand("Get-TransportRule | Select-Object Name, State, Priority, Mode, Comments"),
			Parse: parseJSONList,
		},
	)
}

// Lookup returns the action registered under name
func (r *ActionRegistry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered action names, sorted
func (r *ActionRegistry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fixedCommand(cmdlet string) func(map[string]interface{}) (string, error) {
	return func(map[string]interface{}) (string, error) {
		return cmdlet + " | " + jsonPipeline, nil
	}
}

func buildGetMailbox(params map[string]interface{}) (string, error) {
	identity, hasIdentity, err := stringParam(params, "identity")
	if err != nil {
		return "", domain.ErrInvalidParams(ActionGetMailbox, err.Error())
	}
	resultSize, err := resultSizeParam(params)
	if err != nil {
		return "", domain.ErrInvalidParams(ActionGetMailbox, err.Error())
	}

	var b strings.Builder
	b.WriteString("Get-Mailbox")
	if hasIdentity {
		quoted, err := powershell.QuoteLiteral(identity)
		if err != nil {
			return "", domain.ErrInvalidParams(ActionGetMailbox, "identity: "+err.Error())
		}
		b.WriteString(" -Identity ")
		b.WriteString(quoted)
	}
	b.WriteString(" -ResultSize ")
	b.WriteString(resultSize)
	b.WriteString(" | Select-Object DisplayName, PrimarySmtpAddress, UserPrincipalName, RecipientTypeDetails, WhenCreated | ")
	b.WriteString(jsonPipeline)
	return b.String(), nil
}

func buildGetMailboxStatistics(params map[string]interface{}) (string, error) {
	identity, ok, err := stringParam(params, "identity")
	if err != nil {
		return "", domain.ErrInvalidParams(ActionGetMailboxStatistics, err.Error())
	}
	if !ok {
		return "", domain.ErrInvalidParams(ActionGetMailboxStatistics, "identity is required")
	}
	quoted, err := powershell.QuoteLiteral(identity)
	if err != nil {
		return "", domain.ErrInvalidParams(ActionGetMailboxStatistics, "identity: "+err.Error())
	}
	return fmt.Sprintf(
		"Get-MailboxStatistics -Identity %s | Select-Object DisplayName, ItemCount, @{Name='TotalItemSize';Expression={$_.TotalItemSize.ToString()}}, LastLogonTime | %s",
		quoted, jsonPipeline,
	), nil
}

// stringParam returns a non-blank string param. Absent and blank values report ok=false.
func stringParam(params map[string]interface{}, key string) (string, bool, error) {
	raw, exists := params[key]
	if !exists || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}

// resultSizeParam accepts a positive integer or "Unlimited"
func resultSizeParam(params map[string]interface{}) (string, error) {
	raw, exists := params["resultSize"]
	if !exists || raw == nil {
		return strconv.Itoa(defaultMailboxResults), nil
	}

	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v < 1 || v > math.MaxInt32 {
			return "", fmt.Errorf("resultSize must be a positive integer")
		}
		return strconv.Itoa(int(v)), nil
	case int:
		if v < 1 {
			return "", fmt.Errorf("resultSize must be a positive integer")
		}
		return strconv.Itoa(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 1 || n > math.MaxInt32 {
			return "", fmt.Errorf("resultSize must be a positive integer")
		}
		return strconv.FormatInt(n, 10), nil
	case string:
		if strings.EqualFold(strings.TrimSpace(v), "unlimited") {
			return "Unlimited", nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return "", fmt.Errorf("resultSize must be a positive integer or Unlimited")
		}
		return strconv.Itoa(n), nil
	}
	return "", fmt.Errorf("resultSize must be a positive integer or Unlimited")
}

func parseJSON(stdout string) (interface{}, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseJSONList always yields a list: ConvertTo-Json emits a bare object for
// a single item and nothing at all for none.
func parseJSONList(stdout string) (interface{}, error) {
	out, err := parseJSON(stdout)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case nil:
		return []interface{}{}, nil
	case []interface{}:
		return v, nil
	default:
		return []interface{}{v}, nil
	}
}
