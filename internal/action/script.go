// Package action turns an ExecTask's raw action text into a
// deterministic, cached, executable script with prologue/epilogue
// scaffolding. Scripts are content-addressed: identical generated text
// hashes to the same cache entry regardless of which task produced it.
package action

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ottolang/otto/internal/taskgraph"
)

// GenerateOptions carries everything the generator needs beyond the
// ExecTask itself: the names of its dependencies (for input-loading) and
// the task directory layout it will run inside of.
type GenerateOptions struct {
	Task        *taskgraph.ExecTask
	DepNames    []string // dependency task (or subtask) names, for input loading
	GlobalEnv   map[string]string
	TaskDir     string // absolute path the script will execute inside
	OutputPath  string // absolute path to <task>.output.json
}

// Generate produces the full script text (shebang, prologue, user body,
// epilogue) and the language it was generated in.
func Generate(opts GenerateOptions) (script string, lang Language, needsJQ bool) {
	lang, shebang, body := Detect(opts.Task.Action)
	if shebang == "" {
		shebang = "#!/usr/bin/env bash"
		if lang == Python {
			shebang = "#!/usr/bin/env python3"
		}
	}

	needsJQ = lang == Bash && (len(opts.DepNames) > 0 || len(opts.Task.Output) > 0)

	var prologue, epilogue string
	if lang == Python {
		prologue = pythonPrologue(opts)
		epilogue = pythonEpilogue(opts)
	} else {
		prologue = bashPrologue(opts)
		epilogue = bashEpilogue(opts, needsJQ)
	}

	var b strings.Builder
	b.WriteString(shebang)
	b.WriteString("\n")
	b.WriteString(prologue)
	b.WriteString("\n# ---- user action ----\n")
	b.WriteString(strings.TrimPrefix(body, "\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# ---- epilogue ----\n")
	b.WriteString(epilogue)
	return b.String(), lang, needsJQ
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func bashPrologue(opts GenerateOptions) string {
	var b strings.Builder
	b.WriteString("set -euo pipefail\n\n")
	b.WriteString("declare -A __otto_input\n")
	b.WriteString("declare -A __otto_output\n\n")

	// Grouped environment exports.
	b.WriteString(fmt.Sprintf("export OTTO_TASK_NAME=%s\n", shQuote(opts.Task.Name)))
	b.WriteString(fmt.Sprintf("export OTTO_TASK_DIR=%s\n", shQuote(opts.TaskDir)))
	b.WriteString(fmt.Sprintf("export OTTO_OUTPUT_FILE=%s\n", shQuote(opts.OutputPath)))
	for _, k := range sortedKeys(opts.GlobalEnv) {
		b.WriteString(fmt.Sprintf("export %s=%s\n", k, shQuote(opts.GlobalEnv[k])))
	}
	for _, k := range sortedKeys(opts.Task.Env) {
		b.WriteString(fmt.Sprintf("export %s=%s\n", k, shQuote(opts.Task.Env[k])))
	}
	b.WriteString("\n")

	// Parameter defaults, set as bare shell vars and exported as OTTO_PARAM_*.
	for _, k := range sortedKeys(opts.Task.Params) {
		b.WriteString(fmt.Sprintf("%s=%s\n", k, shQuote(opts.Task.Params[k])))
		b.WriteString(fmt.Sprintf("export OTTO_PARAM_%s=%s\n", strings.ToUpper(k), shQuote(opts.Task.Params[k])))
	}
	if len(opts.Task.Params) > 0 {
		b.WriteString("\n# Re-parse any pass-through arguments, CLI-supplied values override defaults above.\n")
		b.WriteString("while [ $# -gt 0 ]; do\n  case \"$1\" in\n")
		for _, k := range sortedKeys(opts.Task.Params) {
			b.WriteString(fmt.Sprintf("    --%s) %s=\"$2\"; export OTTO_PARAM_%s=\"$2\"; shift 2 ;;\n", k, k, strings.ToUpper(k)))
		}
		b.WriteString("    *) shift ;;\n  esac\ndone\n\n")
	}

	if len(opts.DepNames) > 0 {
		b.WriteString("# Load dependency outputs into the input staging array.\n")
		for _, dep := range opts.DepNames {
			b.WriteString(fmt.Sprintf("if [ -f \"${OTTO_TASK_DIR}/%s.input.json\" ]; then\n", dep))
			b.WriteString(fmt.Sprintf("  for __otto_k in $(jq -r 'keys[]' \"${OTTO_TASK_DIR}/%s.input.json\"); do\n", dep))
			b.WriteString(fmt.Sprintf("    __otto_v=$(jq -r --arg k \"$__otto_k\" '.[$k]' \"${OTTO_TASK_DIR}/%s.input.json\")\n", dep))
			b.WriteString(fmt.Sprintf("    __otto_input[\"%s.${__otto_k}\"]=\"$__otto_v\"\n", dep))
			b.WriteString("  done\nfi\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(bashHelperFunctions)
	return b.String()
}

const bashHelperFunctions = `# ---- built-in helpers ----
otto_set_output() {
  __otto_output["$1"]="$2"
}

otto_get_input() {
  printf '%s' "${__otto_input[$1]-}"
}

otto_deserialize_input() {
  local __task="$1"
  if [ -f "${OTTO_TASK_DIR}/${__task}.input.json" ]; then
    for __k in $(jq -r 'keys[]' "${OTTO_TASK_DIR}/${__task}.input.json"); do
      __v=$(jq -r --arg k "$__k" '.[$k]' "${OTTO_TASK_DIR}/${__task}.input.json")
      __otto_input["${__task}.${__k}"]="$__v"
    done
  fi
}
`

// bashEpilogue writes the task's output.json via jq, unless needsJQ is
// false: a task with no declared dependencies and no declared outputs
// never touches jq, and the caller falls back to an empty output file.
func bashEpilogue(opts GenerateOptions, needsJQ bool) string {
	if !needsJQ {
		return ""
	}
	var b strings.Builder
	b.WriteString("__otto_out_tmp=\"${OTTO_OUTPUT_FILE}.tmp\"\n")
	b.WriteString("__otto_jq_args=()\n")
	b.WriteString("for __otto_k in \"${!__otto_output[@]}\"; do\n")
	b.WriteString("  __otto_jq_args+=(--arg \"$__otto_k\" \"${__otto_output[$__otto_k]}\")\n")
	b.WriteString("done\n")
	b.WriteString(`jq -n "${__otto_jq_args[@]}" '$ARGS.named' > "${__otto_out_tmp}"` + "\n")
	b.WriteString("mv \"${__otto_out_tmp}\" \"${OTTO_OUTPUT_FILE}\"\n")
	return b.String()
}

func pythonPrologue(opts GenerateOptions) string {
	var b strings.Builder
	b.WriteString("import json\nimport os\n\n")
	b.WriteString("__otto_input = {}\n__otto_output = {}\n\n")
	b.WriteString(fmt.Sprintf("OTTO_TASK_NAME = %s\n", pyQuote(opts.Task.Name)))
	b.WriteString(fmt.Sprintf("OTTO_TASK_DIR = %s\n", pyQuote(opts.TaskDir)))
	b.WriteString(fmt.Sprintf("OTTO_OUTPUT_FILE = %s\n", pyQuote(opts.OutputPath)))
	b.WriteString("os.environ['OTTO_TASK_NAME'] = OTTO_TASK_NAME\n")
	b.WriteString("os.environ['OTTO_TASK_DIR'] = OTTO_TASK_DIR\n")
	b.WriteString("os.environ['OTTO_OUTPUT_FILE'] = OTTO_OUTPUT_FILE\n")
	for _, k := range sortedKeys(opts.GlobalEnv) {
		b.WriteString(fmt.Sprintf("os.environ[%s] = %s\n", pyQuote(k), pyQuote(opts.GlobalEnv[k])))
	}
	for _, k := range sortedKeys(opts.Task.Env) {
		b.WriteString(fmt.Sprintf("os.environ[%s] = %s\n", pyQuote(k), pyQuote(opts.Task.Env[k])))
	}
	b.WriteString("\nimport argparse\n__otto_parser = argparse.ArgumentParser(add_help=False)\n")
	for _, k := range sortedKeys(opts.Task.Params) {
		b.WriteString(fmt.Sprintf("__otto_parser.add_argument('--%s', default=%s)\n", k, pyQuote(opts.Task.Params[k])))
	}
	b.WriteString("__otto_args, _ = __otto_parser.parse_known_args()\n")
	for _, k := range sortedKeys(opts.Task.Params) {
		b.WriteString(fmt.Sprintf("%s = __otto_args.%s\n", k, k))
		b.WriteString(fmt.Sprintf("os.environ['OTTO_PARAM_%s'] = str(%s)\n", strings.ToUpper(k), k))
	}
	b.WriteString("\n")

	if len(opts.DepNames) > 0 {
		b.WriteString("# Load dependency outputs into the input staging dict.\n")
		for _, dep := range opts.DepNames {
			b.WriteString(fmt.Sprintf("__otto_dep_path = os.path.join(OTTO_TASK_DIR, %s)\n", pyQuote(dep+".input.json")))
			b.WriteString("if os.path.exists(__otto_dep_path):\n")
			b.WriteString("    with open(__otto_dep_path) as __otto_f:\n")
			b.WriteString(fmt.Sprintf("        for __otto_k, __otto_v in json.load(__otto_f).items():\n            __otto_input[%s + '.' + __otto_k] = __otto_v\n", pyQuote(dep)))
		}
		b.WriteString("\n")
	}

	b.WriteString(pythonHelperFunctions)
	return b.String()
}

const pythonHelperFunctions = `# ---- built-in helpers ----
def otto_set_output(key, value):
    __otto_output[key] = value


def otto_get_input(key):
    return __otto_input.get(key, '')


def otto_deserialize_input(task):
    path = os.path.join(OTTO_TASK_DIR, task + '.input.json')
    if os.path.exists(path):
        with open(path) as f:
            for k, v in json.load(f).items():
                __otto_input[task + '.' + k] = v
`

func pythonEpilogue(opts GenerateOptions) string {
	var b strings.Builder
	b.WriteString("__otto_out_tmp = OTTO_OUTPUT_FILE + '.tmp'\n")
	b.WriteString("with open(__otto_out_tmp, 'w') as __otto_f:\n")
	b.WriteString("    json.dump(__otto_output, __otto_f)\n")
	b.WriteString("os.replace(__otto_out_tmp, OTTO_OUTPUT_FILE)\n")
	return b.String()
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func pyQuote(s string) string {
	return strconv.Quote(s)
}
