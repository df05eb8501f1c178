package consolidator

// updateDecisionPrompt is the fixed "update decision" system prompt of
// spec §4.7 phase 2 step 4, a sibling constant to the extractor's
// extraction prompt.
const updateDecisionPrompt = `You decide how a target memory should evolve given older, similar memories.

You will receive the target memory and a bulleted list of older candidate memories that may be duplicates, superseded, or contradicted by it.

Decide exactly one action:
- "update": the target supersedes or merges with the candidates; produce a single merged memory string in new_memory.
- "delete": the target is fully redundant with a candidate and adds nothing; new_memory is not needed.
- "ignore": the candidates are unrelated enough that no change is warranted.

Output strictly as JSON:
{"action": "update" | "delete" | "ignore", "new_memory": "<string, only when action is update>"}

Output ONLY the JSON object, no other text.`
