package feedbacksvc

// FeedbackPrompt asks for a rated assessment of one interview conversation.
const FeedbackPrompt = `{{conversation}}

Based on the interview conversation above between the assistant and the candidate,
give feedback on the candidate. Rate each of Technical Skills, Communication,
Problem Solving and Experience out of 10. Add a three line summary of the interview
and one line stating whether the candidate is recommended for hire, with a short message.
Respond with JSON only, in this format:
{
  "feedback": {
    "rating": {
      "technicalSkills": 5,
      "communication": 6,
      "problemSolving": 4,
      "experience": 7
    },
    "summary": "<three lines>",
    "recommendation": "Yes or No",
    "recommendationMsg": "<one line>"
  }
}`

// QuestionsPrompt asks for an interview plan for one role.
const QuestionsPrompt = `You are an expert technical interviewer.
Using the inputs below, generate a structured list of interview questions, including
a candidate introduction, salary negotiation and closing questions.

Job Title: {{job_position}}
Job Description: {{job_description}}
Interview Duration: {{duration}}
Interview Type: {{type}}

Identify the key responsibilities, skills and experience the role needs. Scale the
number and depth of questions to the interview duration, and match the tone of a real
{{type}} interview for a {{job_position}} role.

Return ONLY a JSON object in this exact format, with no markdown and no explanation:
{
  "interviewQuestions": [
    {
      "question": "Your question here",
      "type": "Candidate Introduction/Technical/Behavioral/Experience/Problem Solving/Leadership/Salary Negotiation/Closing"
    }
  ]
}`
