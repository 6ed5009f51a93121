package llm

const classifyPrompt = `You classify questions about a code repository.
Answer SIMPLE when the question asks for repository-level facts a single
lookup can answer: languages used, file structure, frameworks, technology
inventory. Answer COMPLEX when it needs multi-step search, analysis,
transformation, or generation. Reply with exactly one word: SIMPLE or
COMPLEX.`

const answerSystemPrompt = `You decide whether a worker agent's question
can be answered from existing session context without asking the user.
Reply with a JSON object: {"can_answer": "yes" or "no", "answer": "..."}.
Set can_answer to "no" when the context does not contain the answer. Do
not invent answers.`

const answerPromptFmt = `Search context:
%s

Conversation history:
%s

The worker agent asked:
%s`

const summarySystemPrompt = `You summarize the results of a multi-step
code analysis workflow for the user who asked the original question.
Be concrete and cite findings from the results. Plain text only.`

const summaryPromptFmt = `Original question:
%s

Collected worker results:
%s

Write the final answer.`
