package phases

import (
	"fmt"
	"strings"

	"repolens/internal/batch"
	"repolens/internal/scan"
)

// discoveryAgent is one of the fixed discovery specialists.
type discoveryAgent struct {
	Name             string
	Role             string
	Responsibilities []string
}

// The three discovery specialists run concurrently over the same
// repository overview, each mining it for a different concern.
var discoveryAgents = []discoveryAgent{
	{
		Name: "Structure Agent",
		Role: "analyzing directory and file organization",
		Responsibilities: []string{
			"Analyze directory and file organization",
			"Map project layout and file relationships",
			"Identify key architectural components",
		},
	},
	{
		Name: "Dependency Agent",
		Role: "investigating packages and libraries",
		Responsibilities: []string{
			"Investigate all packages, libraries, and frameworks declared in manifest files",
			"Determine version requirements and note any discrepancies or conflicts",
			"Summarize key runtime and build tooling so downstream agents have a complete reference",
		},
	},
	{
		Name: "Tech Stack Agent",
		Role: "identifying frameworks and technologies",
		Responsibilities: []string{
			"Identify all frameworks and technologies",
			"Note how each is used within the project",
			"Call out current best practices the project follows or violates",
		},
	},
}

func discoveryPrompt(agent discoveryAgent, tree []string, manifests []scan.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s, responsible for %s.\n\n", agent.Name, agent.Role)
	b.WriteString("Your specific responsibilities are:\n")
	for _, r := range agent.Responsibilities {
		b.WriteString("- " + r + "\n")
	}

	b.WriteString("\nAnalyze this project context and provide a detailed report focused on your domain:\n\n")
	b.WriteString(strings.Join(tree, "\n"))

	if len(manifests) > 0 {
		b.WriteString("\n\nDEPENDENCY MANIFESTS:\n")
		for _, m := range manifests {
			fmt.Fprintf(&b, "- %s (%s)\n", m.Path, m.Tech)
		}
	}

	b.WriteString("\nFormat your response as a structured report with clear sections and findings.")
	return b.String()
}

func planningPrompt(findings []AgentFinding, tree []string, files []string) string {
	var b strings.Builder
	b.WriteString("You are a methodical planning architect. Based on the discovery findings below, ")
	b.WriteString("divide the repository's files among specialist analysis agents. Group related files ")
	b.WriteString("so each agent can reason about one coherent part of the system.\n\n")

	b.WriteString("DISCOVERY FINDINGS:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "\n### %s\n%s\n", f.Agent, f.Text)
	}

	b.WriteString("\nPROJECT STRUCTURE:\n")
	b.WriteString(strings.Join(tree, "\n"))

	b.WriteString("\n\nFILES TO ASSIGN (use these exact paths):\n")
	for _, f := range files {
		b.WriteString("- " + f + "\n")
	}

	b.WriteString(`
Respond with ONLY an XML document in exactly this format, no prose before or after:

<analysis_plan>
  <agent_1 name="Short Agent Name">
    <description>What this agent focuses on</description>
    <file_assignments>
      <file_path>path/to/file</file_path>
    </file_assignments>
  </agent_1>
</analysis_plan>

Every file must be assigned to exactly one agent.`)
	return b.String()
}

// analysisSkeleton is the analysis prompt without file contents. The
// batcher measures it so the per-batch budget accounts for the framing.
func analysisSkeleton(agentName, description string, tree []string, assigned []string) string {
	var b strings.Builder
	role := description
	if role == "" {
		role = "analyzing code files"
	}
	fmt.Fprintf(&b, "You are %s, responsible for %s.\n\n", agentName, role)
	b.WriteString("Your task is to perform a deep analysis of the code files assigned to you in this project.\n\n")

	b.WriteString("TREE STRUCTURE:\n")
	b.WriteString(strings.Join(tree, "\n"))

	b.WriteString("\n\nASSIGNED FILES:\n")
	for _, f := range assigned {
		b.WriteString("- " + f + "\n")
	}

	b.WriteString("\nFILE CONTENTS:\n")
	return b.String()
}

func analysisPrompt(skeleton string, files []batch.File) string {
	var b strings.Builder
	b.WriteString(skeleton)
	for _, f := range files {
		fmt.Fprintf(&b, "<file path=%q>\n%s\n</file>\n\n", f.Path, f.Content)
	}

	b.WriteString(`Analyze the code following these guidelines:
1. Focus on understanding the purpose and functionality of each file
2. Identify key patterns and design decisions
3. Note any potential issues, optimizations, or improvements
4. Pay attention to relationships between different components
5. Summarize your findings in a clear, structured format

Format your response as a structured report with clear sections and findings for each file.`)
	return b.String()
}

func synthesisPrompt(units []UnitResult) string {
	var b strings.Builder
	b.WriteString("Your task is to write a detailed developer report based on the codebase <analysis_results> below.\n\n")
	b.WriteString(`The report must include:
1. Deep understanding of all findings
2. Methodical processing of new information
3. Most critical areas within the codebase
4. Overall objective of the codebase
5. Additional details unique to the codebase

<analysis_results>
`)
	for _, u := range units {
		if u.Err != "" {
			continue
		}
		fmt.Fprintf(&b, "### %s (batch %d: %s)\n%s\n\n", u.Agent, u.Batch+1, strings.Join(u.Files, ", "), u.Text)
	}
	b.WriteString("</analysis_results>\n")
	return b.String()
}

func consolidationPrompt(res *RunResult) string {
	var b strings.Builder
	b.WriteString("Consolidate the multi-phase analysis below into a single comprehensive report ")
	b.WriteString("covering the repository's architecture, dependencies, code quality, and notable risks.\n\n")

	b.WriteString("## Discovery\n")
	for _, f := range res.Discovery.Findings {
		fmt.Fprintf(&b, "### %s\n%s\n\n", f.Agent, f.Text)
	}

	b.WriteString("## Synthesis\n")
	b.WriteString(res.Synthesis.Text)
	b.WriteString("\n")
	return b.String()
}

func finalPrompt(consolidated string, tree []string) string {
	var b strings.Builder
	b.WriteString("You are a technical writer producing the definitive summary document for this repository. ")
	b.WriteString("Using the consolidated report and the project structure below, write a final analysis that a ")
	b.WriteString("new developer could read to understand the system: purpose, architecture, key components, ")
	b.WriteString("how they interact, and where to start reading.\n\n")

	b.WriteString("<consolidated_report>\n")
	b.WriteString(consolidated)
	b.WriteString("\n</consolidated_report>\n\n")

	// The tree arrives already wrapped in <project_structure> delimiters.
	b.WriteString(strings.Join(tree, "\n"))
	b.WriteString("\n")
	return b.String()
}
