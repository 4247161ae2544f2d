package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"sealwire/internal/domain"
	dErrors "sealwire/pkg/domain-errors"
)

// Embedded media travels inline ("data:...") on the wire and as content
// links ("link:...") at rest. Signatures always cover the at-rest form, so
// inbound payloads are externalized before verification and outbound ones
// inlined after signing.
const (
	embedLinkPrefix = "link:"
	embedDataPrefix = "data:application/json;base64,"
)

// inlineEmbeds rewrites every "link:<link>" string value to its inlined
// "data:" form by fetching the referenced object.
func (p *Provider) inlineEmbeds(ctx context.Context, raw []byte) ([]byte, error) {
	return p.rewriteEmbeds(raw, func(v string) (string, error) {
		if !strings.HasPrefix(v, embedLinkPrefix) {
			return v, nil
		}
		link := domain.Link(strings.TrimPrefix(v, embedLinkPrefix))
		obj, err := p.objects.Get(ctx, link)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeNotFound, "embedded object")
		}
		return embedDataPrefix + base64.StdEncoding.EncodeToString(obj.Raw), nil
	})
}

// externEmbeds rewrites every inlined "data:" string value back to a
// "link:<link>" reference, persisting the embedded object.
func (p *Provider) externEmbeds(ctx context.Context, raw []byte) ([]byte, error) {
	return p.rewriteEmbeds(raw, func(v string) (string, error) {
		if !strings.HasPrefix(v, embedDataPrefix) {
			return v, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, embedDataPrefix))
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "embedded media")
		}
		obj := &domain.SignedObject{}
		if err := obj.UnmarshalJSON(decoded); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "embedded media")
		}
		link, err := p.objects.Put(ctx, obj)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeCloudService, "persist embedded object")
		}
		return embedLinkPrefix + string(link), nil
	})
}

func (p *Provider) rewriteEmbeds(raw []byte, rewrite func(string) (string, error)) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidMessageFormat, "payload is not JSON")
	}
	out, err := rewriteValue(doc, rewrite)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func rewriteValue(v any, rewrite func(string) (string, error)) (any, error) {
	switch val := v.(type) {
	case string:
		return rewrite(val)
	case map[string]any:
		for k, inner := range val {
			// Signature and type tags are never embeds.
			if strings.HasPrefix(k, "_") {
				continue
			}
			replaced, err := rewriteValue(inner, rewrite)
			if err != nil {
				return nil, err
			}
			val[k] = replaced
		}
		return val, nil
	case []any:
		for i, inner := range val {
			replaced, err := rewriteValue(inner, rewrite)
			if err != nil {
				return nil, err
			}
			val[i] = replaced
		}
		return val, nil
	default:
		return v, nil
	}
}
