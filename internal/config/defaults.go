package config

// DefaultPrompt is the built-in summarization template.
const DefaultPrompt = `You summarize shell command output for an AI coding agent that has not seen it.

${recent_commands}Host: ${host}
Command: ${command}
Exit code: ${exit_code}
Elapsed: ${elapsed}
${truncated}
Output:

${output}

Write a summary of at most ${summary_words} words.

Start with the outcome: did the command succeed or fail, and what are the key numbers
(tests passed/failed, files changed, records processed)?
If it failed, name the primary cause using the exact error text, file paths, line
numbers and error codes from the output, and say what would fix it.
Mention warnings only when they matter for the next step.
Use plain text, no markdown, short sentences.
End by saying whether the full output is worth reading and which part (for example
"grep for FAIL") if so.`

// DefaultYAML is written to the config path when no file exists yet.
const DefaultYAML = `# cg configuration.
provider:
  # lmstudio | ollama | local (OpenAI-compatible HTTP), openai | anthropic (hosted)
  type: lmstudio
  url: http://127.0.0.1:1234
  model: local-model
  # api_key_env: OPENAI_API_KEY
  summary_words: 100
  # Outputs with at most this many words are returned verbatim.
  output_length_threshold: 100
  timeout_seconds: 30
  max_retries: 0
  temperature: 0.7
  max_output_tokens: 500

# Context window of the summarization model (tokens) and the share of it
# that command output may use.
context_window: 8192
budget_factor: 0.5
# budget_bytes: 20000

# When output exceeds the budget: shares kept from the start, the end and
# around error markers. What the shares leave over is spread across samples
# of the middle.
budget:
  bytes_per_token: 3
  head_share: 0.2
  tail_share: 0.3
  anchor_share: 0.3
  samples: 4
  anchor_on_success: false

temp_dir: /tmp/ctx_guard
clean_up_days: 5
clean_up_schedule: "@hourly"
command_context_minutes: 0

timeout_seconds: 0
kill_grace_seconds: 5
shell: /bin/sh
pty: false

log_level: warn
log_output: file
log_file: ~/.ctx_guard/cg.log

commands: {}
#  "npx jest": {summary_words: 200}
#  "curl -v *": false

profiles: {}
#  fast:
#    provider: {model: small-model}
#    context_window: 4096
`
