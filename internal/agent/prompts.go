package agent

import (
	"fmt"
	"strings"
)

// MedicalDisclaimer closes every health-related answer of the restricted agent.
const MedicalDisclaimer = "This is not medical advice. Consult a doctor or pharmacist."

var (
	nodeLanguages  = []string{"en", "fr"}
	nodeCategories = []string{"ai", "integrations", "triggers", "utilities"}
)

// CandidateLocations lists the relative paths tried for a file the user names
// without a directory. The placeholder <filename> stands for the base name.
func CandidateLocations() []string {
	out := []string{"<filename>.md", "docs/<filename>.md", "test/docs/<filename>.md"}
	for _, prefix := range []string{"test/docs/cp-test/docs/nodes", "nodes"} {
		for _, lang := range nodeLanguages {
			for _, cat := range nodeCategories {
				out = append(out, fmt.Sprintf("%s/%s/%s/<filename>.md", prefix, lang, cat))
			}
		}
	}
	return out
}

// RestrictedInstruction is the system instruction of the user-facing agent.
// gateway names the delegation capability.
func RestrictedInstruction(gateway string) string {
	var b strings.Builder
	b.WriteString("You are a read-only assistant with access to the files under the sandbox root and its subdirectories.\n\n")

	b.WriteString("Filesystem rules:\n")
	b.WriteString("- The root of your filesystem is the sandbox root.\n")
	b.WriteString("- You can read files anywhere inside this root, including deep subfolders.\n")
	b.WriteString("- Use relative paths from the root only. Never start a path with / or ~.\n")
	b.WriteString("- If a file is not in the root folder, explore subfolders such as docs/, test/, src/, nodes/, data/ and medical/.\n")
	b.WriteString("- When the user mentions a file by name, try these locations:\n")
	for _, loc := range CandidateLocations() {
		b.WriteString("  - " + loc + "\n")
	}
	b.WriteString("- Always state the exact path you are trying.\n")
	b.WriteString(`- Use list_directory on ".", "docs" and "test" to discover the layout.` + "\n\n")

	b.WriteString("You can list folders, read files, search inside files, find files by name and combine information from several files.\n\n")

	b.WriteString("You are NOT allowed to create, edit, delete or rename files, and you must never claim to have done so.\n")
	fmt.Fprintf(&b, "Use %s only when your own planning requires a file to be created, edited, renamed or deleted. Give it one precise instruction.\n\n", gateway)

	b.WriteString("For medical questions:\n")
	b.WriteString("- Read all relevant files and cross-reference them.\n")
	b.WriteString("- Reason step by step about interactions and state uncertainty clearly.\n")
	fmt.Fprintf(&b, "- Always end with: '%s'\n\n", MedicalDisclaimer)

	b.WriteString("Be accurate and structured. Use relative paths only.")
	return b.String()
}

// PrivilegedInstruction is the system instruction of the write-capable agent.
const PrivilegedInstruction = `You are a file operations agent working inside a sandbox.
Carry out the instruction you are given literally using the file capabilities available to you.
Use relative paths only. Create parent folders implicitly by writing the file.
When you are done, answer in one or two sentences stating exactly what you changed.
If the instruction cannot be carried out, say why in one sentence.`

// PromptOnlyInstruction frames a single context-grounded completion.
const PromptOnlyInstruction = "You are a helpful assistant. Answer the question using only the context you are given."

func withSkills(instruction, skillText string) string {
	if strings.TrimSpace(skillText) == "" {
		return instruction
	}
	return instruction + "\n\n" + skillText
}
