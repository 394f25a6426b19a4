package docstore

import (
	_ "embed"
)

//go:embed templates/assetgroup_template.json
var assetGroupTemplate []byte

//go:embed templates/configservice_template.json
var configServiceTemplate []byte

// indexTemplates returns the legacy index templates installed by
// ApplyTemplates, keyed by template name.
func indexTemplates() map[string][]byte {
	return map[string][]byte{
		"assetgroup":    assetGroupTemplate,
		"configservice": configServiceTemplate,
	}
}
