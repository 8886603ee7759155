package driver

import (
	"encoding/json"
	"fmt"
)

// functionSource turns a script body into an anonymous function definition.
func functionSource(body string) string {
	return "function() {\n" + body + "\n}"
}

// envelopeExpression returns a self-invoking expression that calls the script
// body with args and resolves to a JSON envelope {"v": result}. The envelope
// keeps undefined results decodable.
func envelopeExpression(body string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode script arguments: %w", err)
	}
	return fmt.Sprintf(
		"(async function() {\n%s\n}).apply(window, %s).then(v => JSON.stringify({v: v === undefined ? null : v}))",
		body, encoded,
	), nil
}

// decodeEnvelope extracts the result written by envelopeExpression.
func decodeEnvelope(raw string, out any) error {
	var env struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	if len(env.V) == 0 {
		env.V = json.RawMessage("null")
	}
	return json.Unmarshal(env.V, out)
}

// lookupScript resolves the first element matching a locator and performs a
// non-waiting read on it. Arguments: query, isXPath, op, attribute name.
// "count" returns a number. The other ops return {found, ...}.
const lookupScript = `
const [query, isXPath, op, name] = arguments;
if (op === 'count') {
  if (isXPath) {
    return document.evaluate(query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength;
  }
  return document.querySelectorAll(query).length;
}
const el = isXPath
  ? document.evaluate(query, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
  : document.querySelector(query);
if (!el) {
  return {found: false};
}
switch (op) {
case 'attribute':
  return {found: true, present: el.hasAttribute(name), value: el.getAttribute(name) || ''};
case 'text':
  return {found: true, value: el.innerText ?? el.textContent ?? ''};
case 'visible': {
  const style = window.getComputedStyle(el);
  const rect = el.getBoundingClientRect();
  return {found: true, visible: style.display !== 'none' && style.visibility !== 'hidden' && (rect.width > 0 || rect.height > 0)};
}
}
return {found: true};
`

// lookupResult is the decoded form of lookupScript's element reads.
type lookupResult struct {
	Found   bool   `json:"found"`
	Present bool   `json:"present"`
	Value   string `json:"value"`
	Visible bool   `json:"visible"`
}
