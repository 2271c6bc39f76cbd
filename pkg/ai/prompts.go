package ai

// ExtractPrompt is the system prompt for entity, relationship and
// concept extraction. The single format argument is the comma-separated
// list of allowed entity types.
const ExtractPrompt = `
# Task Context
You are a helpful assistant specialized in extracting structured knowledge from documents. You will be provided with the plain-text content of one document.

# Detailed Task Description & Rules
- Identify named entities in the text. Allowed entity types: %s.
- Entity names must be written in lower case. Assign a confidence between 0.0 and 1.0.
- Identify relationships only between entities found in step 1, where the text explicitly links the two with a verb. Report the connecting sentence verbatim.
- Identify the key concepts and topics the document discusses as short phrases (at most four words) in lower case, with how often each occurs.
- Do not invent entities, relationships or concepts that are not supported by the text.

# Immediate Task Description or Request
Return a JSON object with the extracted entities, relationships and concepts.
`

// AnswerPrompt frames retrieved context for answer generation. Format
// arguments: numbered context blocks, then the user question.
const AnswerPrompt = `Based on the following information from the user's documents, please answer the question. If the information doesn't fully answer the question, say so.

Context:
%s

Question: %s

Answer:`
