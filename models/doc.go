// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Request Types

Types for parsing incoming JSON:

  - NonceRequest, WalletLoginRequest: wallet sign-in
  - UpdateProfileRequest, TOTPCodeRequest: profile and second factor
  - CreateProposalRequest, CastVoteRequest: proposals
  - TransferRequest, SpendRequest: coins
  - CreateOrgRequest, AddMemberRequest, VerificationCodeRequest: organizations
  - CreateRoomRequest, AddOptionRequest, AddVotersRequest, RoomStatusRequest,
    EligibilityRequest, SubmitBallotRequest: voting rooms
  - ChatRequest: assistant conversation

# Response Types

  - WalletLoginResponse: session token and user
  - CastVoteResponse, SubmitBallotResponse: rewards earned by a vote
  - RoomResultsResponse: closed room with its final snapshot
  - StatusResponse, CountResponse, IDResponse: small acknowledgements
  - ErrorResponse: error, message

# Domain Types

User, Proposal, Organization, VotingRoom and friends mirror database rows
and carry both json and db tags. OptionStats holds one option's ranking
inside a ResultSnapshot.
*/
package models
