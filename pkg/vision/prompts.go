package vision

// SystemPrompt frames the model as a radiologist for slice analysis requests.
const SystemPrompt = "You are a board-certified radiologist with extensive experience in MRI interpretation. " +
	"Carefully analyze the provided MRI slices and follow the user's task instructions. " +
	"Note: Metadata text visible in the images may be in Romanian - interpret it accordingly."

// responseSchema is the JSON structure the model is instructed to return.
// The three top-level keys are the required fields checked after persistence.
const responseSchema = `{
  "findings": [
    {
      "slice_index": int,
      "anatomical_location": str,
      "description": str,
      "suspicion_level": "benign|indeterminate|suspicious|highly_suspicious",
      "confidence": int
    }
  ],
  "impression": str,
  "recommendations": str
}`

// userTemplate is filled with series id, sequence type, slice count, patient
// context, prior flag and the response schema, in that order.
const userTemplate = `Analyse the following MRI series:

• Series ID: %s
• Sequence type: %s
• Slice count sent: %d
• Patient context: %s
• Clinical question: Confirm or refute possible %s noted in preliminary AI review.

TASK
Return a JSON object with this exact structure:

%s

If no abnormal findings, return "findings": [] but still fill impression & recommendations.`
