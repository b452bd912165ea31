package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Expectation describes the correct behavior of one component action.
type Expectation struct {
	Expected   string `yaml:"expected" json:"expected"`
	TimeoutMS  int    `yaml:"timeout,omitempty" json:"timeoutMs,omitempty"`
	ActionType string `yaml:"action,omitempty" json:"actionType,omitempty"`
}

// ExpectationTable maps component -> action -> expectation.
type ExpectationTable map[string]map[string]Expectation

// Lookup returns the expectation for (component, action).
func (t ExpectationTable) Lookup(component, action string) (Expectation, bool) {
	actions, ok := t[component]
	if !ok {
		return Expectation{}, false
	}
	exp, ok := actions[action]
	return exp, ok
}

// LoadExpectations reads a YAML expectation table. The file has the same
// shape as ExpectationTable:
//
//	Login:
//	  mount: {expected: "Form should render", timeout: 300}
//	  form.submit: {expected: "Should call login", action: api_call}
func LoadExpectations(path string) (ExpectationTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read expectations: %w", err)
	}
	var table ExpectationTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse expectations %s: %w", path, err)
	}
	if table == nil {
		table = ExpectationTable{}
	}
	return table, nil
}

// DefaultExpectations returns a fresh copy of the built-in table for the
// astrology front end.
func DefaultExpectations() ExpectationTable {
	return ExpectationTable{
		"LandingPage": {
			"mount":              {Expected: "Component should render within 500ms", TimeoutMS: 500},
			"button.get-started": {Expected: "Should navigate to /questionnaire", ActionType: "navigate"},
			"button.sign-in":     {Expected: "Should navigate to /login", ActionType: "navigate"},
		},
		"Login": {
			"mount":            {Expected: "Form should render with email and password fields", TimeoutMS: 300},
			"form.submit":      {Expected: "Should call authService.login and store token", ActionType: "api_call"},
			"validation.email": {Expected: "Should show error for invalid email", ActionType: "validation"},
			"success.login":    {Expected: "Should navigate to /dashboard", ActionType: "navigate"},
			"error.login":      {Expected: "Should display error message", ActionType: "error_display"},
		},
		"Register": {
			"mount":               {Expected: "Registration form should render", TimeoutMS: 300},
			"form.submit":         {Expected: "Should call authService.register", ActionType: "api_call"},
			"validation.password": {Expected: "Password must meet requirements", ActionType: "validation"},
			"success.register":    {Expected: "Should navigate to /questionnaire", ActionType: "navigate"},
		},
		"Questionnaire": {
			"mount":               {Expected: "First question should display", TimeoutMS: 500},
			"button.next":         {Expected: "Should advance to next question", ActionType: "state_change"},
			"button.previous":     {Expected: "Should go back to previous question", ActionType: "state_change"},
			"input.answer":        {Expected: "Should update answer state", ActionType: "state_change"},
			"form.submit":         {Expected: "Should save answers and navigate to dashboard", ActionType: "storage"},
			"validation.required": {Expected: "Should prevent progress if required field empty", ActionType: "validation"},
		},
		"Dashboard": {
			"mount":        {Expected: "Should load user data from storage", TimeoutMS: 500},
			"data.charts":  {Expected: "Should render chart visualizations", ActionType: "render"},
			"data.missing": {Expected: "Should show prompt to complete questionnaire", ActionType: "conditional_render"},
			"refresh.data": {Expected: "Should recalculate all metrics", ActionType: "computation"},
		},
		"AIChatInterface": {
			"mount":            {Expected: "Chat history should load", TimeoutMS: 500},
			"message.send":     {Expected: "Should call aiService.sendMessage", ActionType: "api_call"},
			"message.receive":  {Expected: "Should display AI response in chat", ActionType: "state_change"},
			"error.api":        {Expected: "Should show error message and allow retry", ActionType: "error_handling"},
			"typing.indicator": {Expected: "Should show typing animation during API call", ActionType: "ui_feedback"},
		},
		"PatternRecognition": {
			"mount":             {Expected: "Should analyze journal entries", TimeoutMS: 1000},
			"analysis.complete": {Expected: "Should display detected patterns", ActionType: "data_display"},
			"pattern.click":     {Expected: "Should show pattern details", ActionType: "interaction"},
			"filter.category":   {Expected: "Should filter patterns by category", ActionType: "filter"},
		},
		"Journal": {
			"mount":        {Expected: "Should load journal entries from storage", TimeoutMS: 500},
			"entry.create": {Expected: "Should add new entry and update storage", ActionType: "storage"},
			"entry.edit":   {Expected: "Should update existing entry", ActionType: "storage"},
			"entry.delete": {Expected: "Should remove entry and refresh list", ActionType: "storage"},
			"mood.select":  {Expected: "Should update mood data", ActionType: "state_change"},
		},
		"GoalTracker": {
			"mount":              {Expected: "Should load goals from storage", TimeoutMS: 500},
			"goal.create":        {Expected: "Should add goal and persist", ActionType: "storage"},
			"goal.update":        {Expected: "Should update progress", ActionType: "storage"},
			"goal.complete":      {Expected: "Should mark as complete and show celebration", ActionType: "state_change"},
			"progress.calculate": {Expected: "Should show accurate progress percentage", ActionType: "computation"},
		},
		"CrystalRecommendations": {
			"mount":                   {Expected: "Should load user data and calculate recommendations", TimeoutMS: 800},
			"recommendations.display": {Expected: "Should show personalized crystal list", ActionType: "data_display"},
			"crystal.click":           {Expected: "Should show detailed crystal information", ActionType: "interaction"},
			"filter.apply":            {Expected: "Should filter crystals by category", ActionType: "filter"},
		},
		"MyProfile": {
			"mount":                {Expected: "Should load user profile data", TimeoutMS: 500},
			"profile.edit":         {Expected: "Should enable edit mode", ActionType: "state_change"},
			"profile.save":         {Expected: "Should update storage and show success", ActionType: "storage"},
			"picture.upload":       {Expected: "Should validate file and show preview", ActionType: "file_handling"},
			"picture.save":         {Expected: "Should store base64 image in storage", ActionType: "storage"},
			"subscription.display": {Expected: "Should show current plan and features", ActionType: "data_display"},
		},
		"AdminDashboard": {
			"mount":          {Expected: "Should verify admin role and load analytics", TimeoutMS: 1000},
			"access.denied":  {Expected: "Should redirect non-admin users", ActionType: "authorization"},
			"analytics.load": {Expected: "Should fetch and display user statistics", ActionType: "api_call"},
			"chart.render":   {Expected: "Should render analytics charts", ActionType: "render"},
		},
		"PaymentModal": {
			"mount":           {Expected: "Should display subscription options", TimeoutMS: 500},
			"plan.select":     {Expected: "Should highlight selected plan", ActionType: "state_change"},
			"payment.process": {Expected: "Should call payment API", ActionType: "api_call"},
			"payment.success": {Expected: "Should update user tier and close modal", ActionType: "state_change"},
			"payment.error":   {Expected: "Should display error and allow retry", ActionType: "error_handling"},
		},
	}
}
