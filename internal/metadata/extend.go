package metadata

import (
	"github.com/beevik/etree"

	"listsync/internal/fieldtypes"
)

// Marker attribute confirming a complete <List> schema element. Responses
// assembled from a cold or partial cache can carry a bare element without it;
// extension is then held open so a later full response can retry.
const listMarkerAttr = "Name"

// ExtendList merges list and field metadata from a response's <List> element
// into the definition. The full schema arrives on the first change response
// only, so extension runs at most once: a second call is a no-op.
//
// Returns true when the extension completed (now or previously).
func ExtendList(list *ListDefinition, el *etree.Element) bool {
	list.mu.Lock()
	defer list.mu.Unlock()

	if list.metadataExtended {
		return true
	}
	if el == nil || el.SelectAttr(listMarkerAttr) == nil {
		return false
	}

	if title := el.SelectAttrValue("Title", ""); title != "" {
		list.Title = title
	}
	if url := el.SelectAttrValue("WebFullUrl", ""); url != "" {
		list.WebURL = url
	}
	// The configured ID stays canonical: cache containers, target indexes
	// and queued waiters are all keyed by it before the first response
	// arrives, so rewriting it mid-cycle would strand every one of them.
	// The server-reported name is kept separately.
	if name := el.SelectAttrValue(listMarkerAttr, ""); name != "" {
		list.SourceName = NormalizeID(name)
	}

	extendChoiceFields(list, el)

	list.metadataExtended = true
	return true
}

// extendChoiceFields attaches Choices and Default payloads to Choice and
// MultiChoice definitions from the schema's <Field> children.
func extendChoiceFields(list *ListDefinition, el *etree.Element) {
	fieldsEl := el.FindElement("Fields")
	if fieldsEl == nil {
		return
	}
	byInternalName := make(map[string]*FieldDefinition, len(list.Fields))
	for _, f := range list.Fields {
		byInternalName[f.InternalName] = f
	}

	for _, fieldEl := range fieldsEl.SelectElements("Field") {
		def, ok := byInternalName[fieldEl.SelectAttrValue("Name", "")]
		if !ok {
			continue
		}
		if def.ObjectType != fieldtypes.TypeChoice && def.ObjectType != fieldtypes.TypeMultiChoice {
			continue
		}
		if choicesEl := fieldEl.FindElement("CHOICES"); choicesEl != nil {
			def.Choices = def.Choices[:0]
			for _, choiceEl := range choicesEl.SelectElements("CHOICE") {
				def.Choices = append(def.Choices, choiceEl.Text())
			}
		}
		if defaultEl := fieldEl.FindElement("Default"); defaultEl != nil {
			def.Default = defaultEl.Text()
		}
	}
}
