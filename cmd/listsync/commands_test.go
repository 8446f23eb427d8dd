package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `lists:
  - title: Tasks
    id: "tasks"
    fields:
      - internalName: ID
        mappedName: id
        objectType: Counter
        readOnly: true
      - internalName: Title
        mappedName: title
        objectType: Text
`

const testFixtureXML = `<Changes LastChangeToken="1;3;tok-1">
  <List Name="tasks" Title="Tasks"/>
  <data><z:row ows_ID="1" ows_Title="Alpha"/></data>
</Changes>`

func writeTestFiles(t *testing.T) (config, fixture string) {
	t.Helper()
	dir := t.TempDir()
	config = filepath.Join(dir, "listsync.yaml")
	fixture = filepath.Join(dir, "changes.xml")
	require.NoError(t, os.WriteFile(config, []byte(testConfigYAML), 0o644))
	require.NoError(t, os.WriteFile(fixture, []byte(testFixtureXML), 0o644))
	return config, fixture
}

// Every subcommand is registered on the root before any of them runs, so
// this also guards against one command's flag wiring shadowing a sibling's.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func TestSyncCommand(t *testing.T) {
	config, fixture := writeTestFiles(t)

	err := execute(t, "sync",
		"--config", config,
		"--list", "Tasks",
		"--fixture", fixture,
		"--log-level", "error")
	assert.NoError(t, err)
}

func TestEntitiesCommand(t *testing.T) {
	config, fixture := writeTestFiles(t)

	err := execute(t, "entities",
		"--config", config,
		"--list", "Tasks",
		"--fixture", fixture,
		"--log-level", "error",
		"--filter", `fields.title == "Alpha"`)
	assert.NoError(t, err)
}

func TestFieldsCommand(t *testing.T) {
	config, _ := writeTestFiles(t)

	err := execute(t, "fields", "--config", config, "--list", "Tasks")
	assert.NoError(t, err)
}

func TestSyncCommand_UnknownList(t *testing.T) {
	config, fixture := writeTestFiles(t)

	err := execute(t, "sync",
		"--config", config,
		"--list", "Nope",
		"--fixture", fixture)
	assert.Error(t, err)
}
