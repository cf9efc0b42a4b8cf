package resource

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// Ref is a resolved (kind, id) pair.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) String() string { return FormatRef(r.Kind, r.ID) }

// FormatRef renders the canonical "<kind>/<id>" reference.
func FormatRef(k Kind, id string) string {
	return string(k) + "/" + id
}

// ParseRef resolves a reference into a (kind, id) pair. It accepts the
// canonical "<kind>/<id>" form and AWS ARNs of the supported services.
// Anything it cannot map returns an error wrapping ErrUnsupportedKind.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrUnsupportedKind)
	}
	if arn.IsARN(s) {
		return parseARN(s)
	}

	name, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return Ref{}, fmt.Errorf("%w: %q is not <kind>/<id>", ErrUnsupportedKind, s)
	}
	kind, err := ParseKind(name)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Kind: kind, ID: id}, nil
}

func parseARN(s string) (Ref, error) {
	a, err := arn.Parse(s)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrUnsupportedKind, err)
	}

	unsupported := func() (Ref, error) {
		return Ref{}, fmt.Errorf("%w: %s resource %q", ErrUnsupportedKind, a.Service, a.Resource)
	}

	switch a.Service {
	case "ec2":
		typ, id, ok := strings.Cut(a.Resource, "/")
		if !ok || id == "" {
			return unsupported()
		}
		switch typ {
		case "instance":
			return Ref{Kind: KindComputeInstance, ID: id}, nil
		case "volume":
			return Ref{Kind: KindBlockVolume, ID: id}, nil
		}
		return unsupported()

	case "rds":
		id, ok := strings.CutPrefix(a.Resource, "db:")
		if !ok || id == "" {
			return unsupported()
		}
		return Ref{Kind: KindManagedDatabase, ID: id}, nil

	case "sqs":
		if a.Resource == "" || strings.ContainsAny(a.Resource, ":/") {
			return unsupported()
		}
		return Ref{Kind: KindMessageQueue, ID: QueueURL(a.Partition, a.Region, a.AccountID, a.Resource)}, nil

	case "secretsmanager":
		if !strings.HasPrefix(a.Resource, "secret:") {
			return unsupported()
		}
		return Ref{Kind: KindSecret, ID: s}, nil

	case "s3":
		if a.Resource == "" || strings.Contains(a.Resource, "/") {
			return unsupported()
		}
		return Ref{Kind: KindObjectStoreBucket, ID: a.Resource}, nil

	case "lambda":
		rest, ok := strings.CutPrefix(a.Resource, "function:")
		if !ok || rest == "" {
			return unsupported()
		}
		name, _, _ := strings.Cut(rest, ":")
		return Ref{Kind: KindFunction, ID: name}, nil

	case "apigateway":
		parts := strings.Split(strings.TrimPrefix(a.Resource, "/"), "/")
		if len(parts) != 2 || parts[0] != "restapis" || parts[1] == "" {
			return unsupported()
		}
		return Ref{Kind: KindAPIEndpoint, ID: parts[1]}, nil

	case "logs":
		name, ok := strings.CutPrefix(a.Resource, "log-group:")
		if !ok {
			return unsupported()
		}
		name = strings.TrimSuffix(name, ":*")
		if name == "" || strings.Contains(name, ":log-stream:") {
			return unsupported()
		}
		return Ref{Kind: KindLogGroup, ID: name}, nil
	}

	return unsupported()
}

// QueueURL builds the SQS queue URL for a queue name.
func QueueURL(partition, region, account, name string) string {
	domain := "amazonaws.com"
	if partition == "aws-cn" {
		domain = "amazonaws.com.cn"
	}
	return fmt.Sprintf("https://sqs.%s.%s/%s/%s", region, domain, account, name)
}

// QueueName returns the last path segment of a queue URL.
func QueueName(queueURL string) string {
	if i := strings.LastIndex(queueURL, "/"); i >= 0 {
		return queueURL[i+1:]
	}
	return queueURL
}

// KindUnresolved holds references that name no kind at all. Like any kind
// outside the known set it has no handler.
const KindUnresolved Kind = "unresolved"

// ParseRefs resolves many references into a selection, preserving input
// order within each kind. A reference that cannot be resolved is kept under
// the kind it names (the ARN service, or the prefix before "/") so it still
// yields a failed result instead of vanishing. Blank entries are dropped.
func ParseRefs(refs []string) Selection {
	sel := Selection{}
	for _, s := range refs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		ref, err := ParseRef(s)
		if err != nil {
			ref = unresolvedRef(s)
		}
		sel[ref.Kind] = append(sel[ref.Kind], ref.ID)
	}
	return sel
}

func unresolvedRef(s string) Ref {
	s = strings.TrimSpace(s)
	if a, err := arn.Parse(s); err == nil && a.Service != "" {
		return Ref{Kind: Kind(a.Service), ID: s}
	}
	if name, id, ok := strings.Cut(s, "/"); ok && name != "" && id != "" {
		return Ref{Kind: Kind(name), ID: id}
	}
	return Ref{Kind: KindUnresolved, ID: s}
}
